package role

import "testing"

func TestDerive(t *testing.T) {
	const adminEmail = "boss@example.com"

	tests := []struct {
		name    string
		email   string
		current string
		want    string
	}{
		{"новый пользователь", "new@x.com", "", User},
		{"существующий user", "old@x.com", User, User},
		{"существующий admin сохраняет роль", "old@x.com", Admin, Admin},
		{"адрес администратора всегда admin", adminEmail, User, Admin},
		{"адрес администратора без учёта регистра", " BOSS@Example.com ", "", Admin},
		{"неизвестная роль сбрасывается в user", "old@x.com", "superuser", User},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.email, adminEmail, tt.current); got != tt.want {
				t.Errorf("Derive(%q, %q) = %q, ожидалось %q", tt.email, tt.current, got, tt.want)
			}
		})
	}
}

func TestDerive_EmptyAdminEmail(t *testing.T) {
	if got := Derive("", "", ""); got != User {
		t.Errorf("пустой адрес администратора не должен давать admin, получено %q", got)
	}
}

func TestIsValid(t *testing.T) {
	for _, r := range []string{User, Admin} {
		if !IsValid(r) {
			t.Errorf("IsValid(%q) = false", r)
		}
	}
	for _, r := range []string{"", "readonly", "ADMIN"} {
		if IsValid(r) {
			t.Errorf("IsValid(%q) = true", r)
		}
	}
}
