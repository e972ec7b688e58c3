package mailer

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	SubjectSignupOTP = "Your FlavorFleet verification code"
	SubjectResetOTP  = "Your FlavorFleet password reset code"
	SubjectWelcome   = "Welcome to FlavorFleet"
)

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SignupOTPBody renders the signup verification email.
func SignupOTPBody(name, code string, ttl time.Duration) (string, error) {
	return render("otp.html", map[string]any{
		"Name":    name,
		"Code":    code,
		"Minutes": int(ttl.Minutes()),
		"Action":  "complete your registration",
	})
}

// ResetOTPBody renders the password reset email.
func ResetOTPBody(code string, ttl time.Duration) (string, error) {
	return render("otp.html", map[string]any{
		"Code":    code,
		"Minutes": int(ttl.Minutes()),
		"Action":  "reset your password",
	})
}

func WelcomeBody(name string) (string, error) {
	return render("welcome.html", map[string]any{"Name": name})
}

// NotificationBody renders a notification as an email.
func NotificationBody(title, content, imageURL string) (string, error) {
	return render("notification.html", map[string]any{
		"Title":    title,
		"Content":  content,
		"ImageURL": imageURL,
	})
}
