package validation

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError representa um erro de validação com contexto
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (valor: %s)", e.Field, e.Message, e.Value)
}

// ValidationResult contém o resultado de uma validação
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []*ValidationError `json:"errors,omitempty"`
}

// NewResult resultado vazio (válido)
func NewResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddError adiciona um erro ao resultado
func (r *ValidationResult) AddError(field, value, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// Check adiciona err (se não nil) ao resultado
func (r *ValidationResult) Check(err error) {
	if err == nil {
		return
	}
	if ve, ok := err.(*ValidationError); ok {
		r.Valid = false
		r.Errors = append(r.Errors, ve)
		return
	}
	r.AddError("config", "", err.Error())
}

// Err nil se válido; senão um único erro listando todos os problemas
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	lines := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		lines[i] = e.Error()
	}
	return fmt.Errorf("configuração inválida:\n  - %s", strings.Join(lines, "\n  - "))
}

// ValidatePercentage limite percentual (0, 100]
func ValidatePercentage(value float64, field string) error {
	if value <= 0 || value > 100 {
		return &ValidationError{
			Field:   field,
			Value:   fmt.Sprintf("%.1f", value),
			Message: "Valor deve estar entre 0 e 100 (%)",
		}
	}
	return nil
}

// ValidatePositiveDuration duração estritamente positiva
func ValidatePositiveDuration(d time.Duration, field string) error {
	if d <= 0 {
		return &ValidationError{
			Field:   field,
			Value:   d.String(),
			Message: "Deve ser maior que 0",
		}
	}
	return nil
}

// ValidateCooldown cooldown não negativo (0 = sem supressão)
func ValidateCooldown(d time.Duration, field string) error {
	if d < 0 {
		return &ValidationError{
			Field:   field,
			Value:   d.String(),
			Message: "Cooldown não pode ser negativo",
		}
	}
	return nil
}

// ValidatePort porta TCP
func ValidatePort(port int, field string) error {
	if port < 1 || port > 65535 {
		return &ValidationError{
			Field:   field,
			Value:   fmt.Sprintf("%d", port),
			Message: "Porta deve estar entre 1 e 65535",
		}
	}
	return nil
}

// ValidateURL URL absoluta http(s); vazio é aceito quando optional
func ValidateURL(raw, field string, optional bool) error {
	if raw == "" {
		if optional {
			return nil
		}
		return &ValidationError{Field: field, Message: "Obrigatório"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{
			Field:   field,
			Value:   raw,
			Message: "URL inválida (esperado http:// ou https://)",
		}
	}
	return nil
}

// ValidateCredentials campos obrigatórios de um canal habilitado.
// Recebe pares nome/valor; o nome é o da variável de ambiente.
func ValidateCredentials(channel string, pairs ...string) *ValidationResult {
	result := NewResult()
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		result.AddError(channel, "", fmt.Sprintf("%s obrigatório(s) com %s habilitado", strings.Join(missing, " e "), channel))
	}
	return result
}

// Merge acrescenta os erros de other
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil || other.Valid {
		return
	}
	r.Valid = false
	r.Errors = append(r.Errors, other.Errors...)
}
