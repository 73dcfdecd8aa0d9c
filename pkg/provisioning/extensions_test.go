package provisioning

import "testing"

func TestDegraded(t *testing.T) {
	tests := []struct {
		name   string
		perDB  map[string]map[string]string
		want   bool
	}{
		{
			name: "agreeing versions",
			perDB: map[string]map[string]string{
				"tansu_tenant_a": {"citus": "12.1"},
				"tansu_tenant_b": {"citus": "12.1"},
			},
			want: false,
		},
		{
			name: "diverging versions",
			perDB: map[string]map[string]string{
				"tansu_tenant_a": {"citus": "12.1"},
				"tansu_tenant_b": {"citus": "12.0"},
			},
			want: true,
		},
		{
			name:  "empty",
			perDB: map[string]map[string]string{},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Degraded(tt.perDB); got != tt.want {
				t.Errorf("Degraded() = %v, want %v", got, tt.want)
			}
		})
	}
}
