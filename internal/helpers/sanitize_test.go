package helpers

import "testing"

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty string", "", ""},
		{"alphanumeric", "abc123XYZ", "abc123XYZ"},
		{"with hyphens", "my-app-name", "my-app-name"},
		{"with underscores", "my_app_name", "my_app_name"},
		{"with dots", "my.app.name", "my_app_name"},
		{"with spaces", "my app name", "my_app_name"},
		{"mixed disallowed", "my!app@name#$", "my_app_name__"},
		{"leading/trailing disallowed", ".test-app.", "_test-app_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeString(tt.input); got != tt.want {
				t.Errorf("SanitizeString() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeLabelValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no quotes", "webapi", "webapi"},
		{"with quotes", `web"api`, "webapi"},
		{"multiple quotes", `"web"api"`, "webapi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeLabelValue(tt.input); got != tt.want {
				t.Errorf("SanitizeLabelValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
