package notify

import (
	"bytes"
	"html/template"
)

const welcomeSubject = "Welcome to Photo Restore!"

var welcomeTmpl = template.Must(template.New("welcome").Parse(`<h1 style="color:#c2410c;">Welcome, {{.}}!</h1>
<p>Thank you for signing up for Photo Restore.<br>
We're thrilled to help you restore your precious memories.</p>
<p>Your first restoration is on us. If you have any questions, just reply to this email!</p>
<hr>
<small>This is an automated message from Photo Restore.</small>`))

// WelcomeEmail greets name, or the address when no name is known.
func WelcomeEmail(from Contact, email, name string) (Email, error) {
	greet := name
	if greet == "" {
		greet = email
	}
	var buf bytes.Buffer
	if err := welcomeTmpl.Execute(&buf, greet); err != nil {
		return Email{}, err
	}
	return Email{
		Sender:      from,
		To:          []Contact{{Email: email, Name: name}},
		Subject:     welcomeSubject,
		HTMLContent: buf.String(),
	}, nil
}
