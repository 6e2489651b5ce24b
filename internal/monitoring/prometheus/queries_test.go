package prometheus

import (
	"strings"
	"testing"
)

// TestQueryBuilder testa o builder de queries
func TestQueryBuilder(t *testing.T) {
	tests := []struct {
		name      string
		template  QueryTemplate
		vars      map[string]string
		wantErr   bool
		wantQuery string
	}{
		{
			name:     "CPU Usage Query",
			template: NodeCPUUsageQuery,
			vars: map[string]string{
				"instance":    "10.0.0.5:9100",
				"rate_window": "2m",
			},
			wantQuery: `instance="10.0.0.5:9100",mode="idle"}[2m]`,
		},
		{
			name:      "Memory Usage Query",
			template:  NodeMemoryUsageQuery,
			vars:      map[string]string{"instance": "srv:9100"},
			wantQuery: `node_memory_MemTotal_bytes{instance="srv:9100"}`,
		},
		{
			name:     "Missing Variables",
			template: NodeNetworkRxQuery,
			vars:     map[string]string{"instance": "srv:9100"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := NewQueryBuilder(tt.template)

			for key, value := range tt.vars {
				builder.vars[key] = value
			}

			query, err := builder.Build()

			if (err != nil) != tt.wantErr {
				t.Errorf("Build() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if !strings.Contains(query, tt.wantQuery) {
					t.Errorf("Query %q does not contain %q", query, tt.wantQuery)
				}

				if strings.Contains(query, "{{.") {
					t.Error("Query contains unsubstituted placeholders")
				}

				// Espaços e quebras de linha normalizados
				if strings.Contains(query, "\n") {
					t.Error("Query contains line breaks")
				}
			}
		})
	}
}

// TestBuildNodeQueries testa a montagem das queries de uma instância
func TestBuildNodeQueries(t *testing.T) {
	q, err := BuildNodeQueries("host-a:9100", "1m")
	if err != nil {
		t.Fatalf("BuildNodeQueries() error = %v", err)
	}

	for name, query := range map[string]string{
		"cpu":         q.CPU,
		"memory":      q.Memory,
		"connections": q.Connections,
		"rx":          q.NetworkRx,
		"tx":          q.NetworkTx,
	} {
		if !strings.Contains(query, `instance="host-a:9100"`) {
			t.Errorf("%s query missing instance: %s", name, query)
		}
	}

	if !strings.Contains(q.Connections, "node_netstat_Tcp_CurrEstab") {
		t.Errorf("unexpected connections query: %s", q.Connections)
	}
	if !strings.Contains(q.NetworkTx, "[1m]") {
		t.Errorf("rate window not applied: %s", q.NetworkTx)
	}
}

// TestGetAllTemplates testa GetAllTemplates
func TestGetAllTemplates(t *testing.T) {
	templates := GetAllTemplates()

	if len(templates) != 5 {
		t.Errorf("Expected 5 templates, got %d", len(templates))
	}

	for _, tmpl := range templates {
		if tmpl.Name == "" || tmpl.Description == "" || tmpl.Query == "" {
			t.Errorf("Incomplete template: %+v", tmpl)
		}

		for _, varName := range tmpl.Variables {
			placeholder := "{{." + varName + "}}"
			if !strings.Contains(tmpl.Query, placeholder) {
				t.Errorf("Template %s does not contain placeholder %s", tmpl.Name, placeholder)
			}
		}
	}
}

// BenchmarkBuildNodeQueries benchmark para BuildNodeQueries
func BenchmarkBuildNodeQueries(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = BuildNodeQueries("host-a:9100", "1m")
	}
}
