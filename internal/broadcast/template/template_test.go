package template

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "plain text", text: "Hello there, this is a reminder.", wantErr: false},
		{name: "valid variable", text: "Hello {{.Name}}, your balance is {{.Balance}}.", wantErr: false},
		{name: "empty text rejected", text: "", wantErr: true},
		{name: "unbalanced braces rejected", text: "Hello {{.Name, your appointment is tomorrow.", wantErr: true},
		{name: "malformed action rejected", text: "Hello {{if}}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		fields  map[string]string
		want    string
		wantErr bool
	}{
		{
			name:   "substitutes known field",
			text:   "Hello {{.Name}}, this is a reminder.",
			fields: map[string]string{"Name": "Priya"},
			want:   "Hello Priya, this is a reminder.",
		},
		{
			name:   "missing optional field renders empty",
			text:   "Hello {{.Name}}{{.Suffix}}.",
			fields: map[string]string{"Name": "Arjun"},
			want:   "Hello Arjun.",
		},
		{
			name:   "no placeholders",
			text:   "This message has no variables.",
			fields: nil,
			want:   "This message has no variables.",
		},
		{
			name:    "invalid template syntax errors",
			text:    "Hello {{.Name",
			fields:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.text, tt.fields)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Render() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}
