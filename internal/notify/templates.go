package notify

import (
	"fmt"
	"html/template"
	"strings"
)

const layoutStart = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">`

var (
	verificationTmpl = template.Must(template.New("verification").Parse(layoutStart + `
  <h1 style="color: #3498db;">Hello {{.Username}}</h1>
  <p style="font-size: 16px;">Welcome to {{.App}}. Please verify your account by clicking the button below:</p>
  <a href="{{.Link}}" style="display: inline-block; padding: 10px 20px; background-color: #3498db; color: #fff; text-decoration: none; border-radius: 5px; margin-top: 10px;" target="_blank">Verify Account</a>
  <p style="font-size: 14px; margin-top: 20px;">If the button above doesn't work, you can also click the link below:</p>
  <a href="{{.Link}}" style="color: #3498db; text-decoration: none;" target="_blank">{{.Link}}</a>
  <p style="font-size: 14px; margin-top: 20px;">Thank you!</p>
</div>`))

	welcomeTmpl = template.Must(template.New("welcome").Parse(layoutStart + `
  <h1 style="color: #3498db;">Welcome {{.Username}}!</h1>
  <p style="font-size: 16px;">Congratulations! Your account on {{.App}} has been successfully verified.</p>
  <p style="font-size: 16px;">Thank you for joining us on this exciting journey!</p>
  <p style="font-size: 14px; margin-top: 20px;">Best regards,</p>
  <p style="font-size: 14px;">The {{.App}} Team</p>
</div>`))

	completeTmpl = template.Must(template.New("complete_registration").Parse(layoutStart + `
  <h1 style="color: #3498db;">Complete Your Registration on {{.App}}</h1>
  <p style="font-size: 16px;">You started the registration process on {{.App}} but didn't complete it.</p>
  <p style="font-size: 16px;">Please click the button below to complete your registration:</p>
  <a href="{{.Link}}" style="display: inline-block; padding: 10px 20px; background-color: #3498db; color: #fff; text-decoration: none; border-radius: 5px; margin-top: 10px;" target="_blank">Complete Registration</a>
  <p style="font-size: 14px; margin-top: 20px;">If the button above doesn't work, you can also click the link below:</p>
  <a href="{{.Link}}" style="color: #3498db; text-decoration: none;" target="_blank">{{.Link}}</a>
  <p style="font-size: 14px; margin-top: 20px;">Thank you!</p>
</div>`))
)

type templateData struct {
	App      string
	Username string
	Link     string
}

// Templates renders the account emails for one product name and frontend.
type Templates struct {
	AppName     string
	FrontendURL string
}

// VerificationLink is where the frontend picks up a verification code.
func (t Templates) VerificationLink(code string) string {
	return strings.TrimRight(t.FrontendURL, "/") + "/users/verify/" + code
}

// CompleteRegistrationLink is where the frontend finishes an abandoned registration.
func (t Templates) CompleteRegistrationLink(accountID int64) string {
	return fmt.Sprintf("%s/users/complete_registration/%d", strings.TrimRight(t.FrontendURL, "/"), accountID)
}

func (t Templates) Verification(to, username, code string) (Message, error) {
	return t.render(verificationTmpl, to, "Verification email for "+t.AppName,
		templateData{App: t.AppName, Username: username, Link: t.VerificationLink(code)})
}

func (t Templates) Welcome(to, username string) (Message, error) {
	return t.render(welcomeTmpl, to, "Welcome to "+t.AppName,
		templateData{App: t.AppName, Username: username})
}

func (t Templates) CompleteRegistration(to string, accountID int64) (Message, error) {
	return t.render(completeTmpl, to, "Complete Your Registration on "+t.AppName,
		templateData{App: t.AppName, Link: t.CompleteRegistrationLink(accountID)})
}

func (t Templates) render(tmpl *template.Template, to, subject string, data templateData) (Message, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s email: %w", tmpl.Name(), err)
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}
