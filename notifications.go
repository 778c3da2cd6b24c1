package goIdentity

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

var notificationTemplates = map[string]*template.Template{
	"username_verification": template.Must(template.New("username_verification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Verify Username Change</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>{{.AppName}}</h1>
  <h2>Username Change Request</h2>
  <p>You've requested to change your username to: <strong>@{{.Value}}</strong></p>
  <p>To confirm this change, open the link below:</p>
  <p><a href="{{.Link}}">Verify Username Change</a></p>
  <ul>
    <li>This link will expire in {{.ExpiresInMinutes}} minutes</li>
    <li>If you didn't request this change, please ignore this email</li>
  </ul>
  <p style="word-break: break-all;">{{.Link}}</p>
</body>
</html>`)),

	"email_verification": template.Must(template.New("email_verification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Verify Email Change</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>{{.AppName}}</h1>
  <h2>Email Change Request</h2>
  <p>You've requested to change your account email to: <strong>{{.Value}}</strong></p>
  <p>To confirm this change, open the link below:</p>
  <p><a href="{{.Link}}">Verify Email Change</a></p>
  <ul>
    <li>This link will expire in {{.ExpiresInMinutes}} minutes</li>
    <li>If you didn't request this change, please ignore this email</li>
  </ul>
  <p style="word-break: break-all;">{{.Link}}</p>
</body>
</html>`)),

	"security_alert": template.Must(template.New("security_alert").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Security Alert</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>{{.AppName}}</h1>
  <h2>Account Activity</h2>
  <p>We detected the following activity on your account:</p>
  <ul>
    <li><strong>Action:</strong> {{.Action}}</li>
    <li><strong>IP Address:</strong> {{.IP}}</li>
    <li><strong>Time:</strong> {{.Time}}</li>
  </ul>
  <p>If this was you, no action is needed. If not, secure your account and contact support immediately.</p>
</body>
</html>`)),
}

type verificationView struct {
	AppName          string
	Value            string
	Link             string
	ExpiresInMinutes int
}

type alertView struct {
	AppName string
	Action  string
	IP      string
	Time    string
}

func (e *Engine) verificationLink(path, token string) string {
	base := strings.TrimRight(e.config.Notification.BaseURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

func (e *Engine) usernameVerificationMessage(username, token string) (Message, error) {
	view := verificationView{
		AppName:          e.config.Notification.AppName,
		Value:            username,
		Link:             e.verificationLink(e.config.Username.VerifyPath, token),
		ExpiresInMinutes: ttlMinutes(e.config.Username.TokenTTL),
	}
	html, err := renderTemplate("username_verification", view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Subject: "Verify Your Username Change - " + view.AppName,
		HTML:    html,
		Text: fmt.Sprintf("You've requested to change your username to @%s.\n\nConfirm the change: %s\n\nThis link expires in %d minutes. If you didn't request this change, ignore this email.\n",
			username, view.Link, view.ExpiresInMinutes),
	}, nil
}

func (e *Engine) emailVerificationMessage(newEmail, token string) (Message, error) {
	view := verificationView{
		AppName:          e.config.Notification.AppName,
		Value:            newEmail,
		Link:             e.verificationLink(e.config.Email.VerifyPath, token),
		ExpiresInMinutes: ttlMinutes(e.config.Email.TokenTTL),
	}
	html, err := renderTemplate("email_verification", view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Subject: "Verify Your Email Change - " + view.AppName,
		HTML:    html,
		Text: fmt.Sprintf("You've requested to change your account email to %s.\n\nConfirm the change: %s\n\nThis link expires in %d minutes. If you didn't request this change, ignore this email.\n",
			newEmail, view.Link, view.ExpiresInMinutes),
	}, nil
}

func (e *Engine) securityAlertMessage(action, ip string, at time.Time) (Message, error) {
	if ip == "" {
		ip = "unknown"
	}
	view := alertView{
		AppName: e.config.Notification.AppName,
		Action:  action,
		IP:      ip,
		Time:    at.UTC().Format(time.RFC1123),
	}
	html, err := renderTemplate("security_alert", view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Subject: "Security Alert - " + view.AppName + " Account Activity",
		HTML:    html,
		Text: fmt.Sprintf("We detected the following activity on your account:\n\nAction: %s\nIP Address: %s\nTime: %s\n\nIf this was not you, secure your account and contact support immediately.\n",
			view.Action, view.IP, view.Time),
	}, nil
}

func renderTemplate(name string, data any) (string, error) {
	tmpl, ok := notificationTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown notification template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func ttlMinutes(d time.Duration) int {
	return int((d + time.Minute - 1) / time.Minute)
}
