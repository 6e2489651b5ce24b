package validation

import (
	"strings"
	"testing"
	"time"
)

func TestValidatePercentage(t *testing.T) {
	tests := []struct {
		value float64
		valid bool
	}{
		{0, false},
		{-5, false},
		{0.5, true},
		{90, true},
		{100, true},
		{100.1, false},
	}

	for _, tt := range tests {
		err := ValidatePercentage(tt.value, "snmp.rules.cpu_percent")
		if (err == nil) != tt.valid {
			t.Errorf("ValidatePercentage(%.1f): esperado válido=%v, erro=%v", tt.value, tt.valid, err)
		}
	}
}

func TestValidateDurations(t *testing.T) {
	if err := ValidatePositiveDuration(0, "detector.interval"); err == nil {
		t.Error("Esperado erro para intervalo zero")
	}
	if err := ValidatePositiveDuration(2*time.Second, "detector.interval"); err != nil {
		t.Errorf("Esperado válido, obtido %v", err)
	}
	if err := ValidateCooldown(0, "snmp.rules.cpu_cooldown"); err != nil {
		t.Errorf("Cooldown zero deve ser aceito: %v", err)
	}
	if err := ValidateCooldown(-time.Second, "snmp.rules.cpu_cooldown"); err == nil {
		t.Error("Esperado erro para cooldown negativo")
	}
}

func TestValidatePortAndURL(t *testing.T) {
	if ValidatePort(0, "web.port") == nil || ValidatePort(70000, "web.port") == nil {
		t.Error("Esperado erro para porta fora do intervalo")
	}
	if err := ValidatePort(8080, "web.port"); err != nil {
		t.Errorf("Esperado porta válida: %v", err)
	}

	if err := ValidateURL("", "telegram.proxy_http", true); err != nil {
		t.Errorf("URL opcional vazia deve ser aceita: %v", err)
	}
	if err := ValidateURL("", "prometheus.endpoint", false); err == nil {
		t.Error("Esperado erro para URL obrigatória vazia")
	}
	if err := ValidateURL("localhost:9090", "prometheus.endpoint", false); err == nil {
		t.Error("Esperado erro para URL sem scheme")
	}
	if err := ValidateURL("http://prometheus:9090", "prometheus.endpoint", false); err != nil {
		t.Errorf("Esperado URL válida: %v", err)
	}
}

func TestValidateCredentials(t *testing.T) {
	result := ValidateCredentials("telegram", "TELEGRAM_TOKEN", "", "TELEGRAM_CHAT_ID", " ")
	if result.Valid {
		t.Fatal("Esperado resultado inválido")
	}
	msg := result.Errors[0].Error()
	if !strings.Contains(msg, "TELEGRAM_TOKEN e TELEGRAM_CHAT_ID") {
		t.Errorf("Mensagem inesperada: %s", msg)
	}

	if !ValidateCredentials("email", "GMAIL_USER", "ops@example.com", "GMAIL_PASS", "x").Valid {
		t.Error("Esperado credenciais válidas")
	}
}

func TestResultCollectsEverything(t *testing.T) {
	result := NewResult()
	if result.Err() != nil {
		t.Fatal("Resultado vazio deve ser válido")
	}

	result.Check(nil)
	result.Check(ValidatePort(0, "web.port"))
	result.Check(errWrapped("source desconhecida"))
	result.Merge(ValidateCredentials("email", "GMAIL_USER", ""))

	err := result.Err()
	if err == nil {
		t.Fatal("Esperado erro")
	}
	for _, want := range []string{"web.port", "source desconhecida", "GMAIL_USER"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Esperado %q em %q", want, err.Error())
		}
	}
	if len(result.Errors) != 3 {
		t.Errorf("Esperado 3 erros, obtido %d", len(result.Errors))
	}
}

type errWrapped string

func (e errWrapped) Error() string { return string(e) }
