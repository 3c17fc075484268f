package notify

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"restotrack/config"
	"restotrack/core/store"
	"restotrack/core/utils"
)

const (
	MethodEmail = "email"
	MethodSMS   = "sms"
)

type EmailMessage struct {
	To      string
	From    string
	Subject string
	Body    string
}

type SMSMessage struct {
	To   string
	From string
	Text string
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) error
}

// Dispatcher fans an escalation notice out to a single on-call user:
// always email, plus SMS when the user has a phone number on file.
type Dispatcher struct {
	email  EmailSender
	sms    SMSSender
	logger *utils.Logger
}

func NewDispatcher(email EmailSender, sms SMSSender, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{email: email, sms: sms, logger: logger}
}

// PreferredMethod picks the contact method recorded on the escalation
// event: sms when the user has a phone, email otherwise.
func PreferredMethod(user *store.User) string {
	if user != nil && strings.TrimSpace(user.Phone) != "" {
		return MethodSMS
	}
	return MethodEmail
}

// Notify sends the escalation notice over every available channel and
// reports whether at least one delivery succeeded. Per-channel failures
// are logged, not returned, so one dead provider cannot silence the
// other.
func (d *Dispatcher) Notify(ctx context.Context, user *store.User, inc *store.Incident) bool {
	if d == nil || user == nil || inc == nil {
		return false
	}
	subject := fmt.Sprintf("Escalation: incident #%d %s", inc.ID, strings.TrimSpace(inc.Title))
	body := buildEscalationText(user, inc)
	delivered := false
	if d.email != nil {
		err := d.email.SendEmail(ctx, EmailMessage{To: user.Email, Subject: subject, Body: body})
		if err != nil {
			if d.logger != nil {
				d.logger.Errorf("notify email user %d incident %d: %v", user.ID, inc.ID, err)
			}
		} else {
			delivered = true
		}
	}
	if d.sms != nil && strings.TrimSpace(user.Phone) != "" {
		err := d.sms.SendSMS(ctx, SMSMessage{To: user.Phone, Text: body})
		if err != nil {
			if d.logger != nil {
				d.logger.Errorf("notify sms user %d incident %d: %v", user.ID, inc.ID, err)
			}
		} else {
			delivered = true
		}
	}
	return delivered
}

func buildEscalationText(user *store.User, inc *store.Incident) string {
	lines := []string{
		fmt.Sprintf("Incident #%d needs acknowledgement", inc.ID),
		strings.TrimSpace(inc.Title),
		fmt.Sprintf("Status: %s", inc.Status),
	}
	if inc.Emergency {
		lines = append(lines, "Severity: EMERGENCY")
	}
	lines = append(lines, fmt.Sprintf("Assigned contact: %s", strings.TrimSpace(user.FullName)))
	return strings.Join(lines, "\n")
}

// HTTPEmailSender posts to a generic transactional-email API. The API
// key is stored encrypted in config and decrypted once at construction.
type HTTPEmailSender struct {
	client *http.Client
	url    string
	apiKey string
	from   string
}

func NewHTTPEmailSender(cfg *config.AppConfig, enc *utils.Encryptor) (*HTTPEmailSender, error) {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.EmailAPIURL) == "" {
		return nil, errors.New("email api url missing")
	}
	key, err := decryptAPIKey(enc, cfg.Notifications.EmailAPIKeyEnc)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Notifications.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEmailSender{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(cfg.Notifications.EmailAPIURL, "/"),
		apiKey: key,
		from:   cfg.Notifications.EmailFrom,
	}, nil
}

func (s *HTTPEmailSender) SendEmail(ctx context.Context, msg EmailMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("email recipient missing")
	}
	if strings.TrimSpace(msg.From) == "" {
		msg.From = s.from
	}
	body := map[string]any{
		"to":      msg.To,
		"from":    msg.From,
		"subject": msg.Subject,
		"text":    msg.Body,
	}
	return postJSON(ctx, s.client, s.url+"/messages", s.apiKey, body)
}

type HTTPSMSSender struct {
	client *http.Client
	url    string
	apiKey string
	from   string
}

func NewHTTPSMSSender(cfg *config.AppConfig, enc *utils.Encryptor) (*HTTPSMSSender, error) {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.SMSAPIURL) == "" {
		return nil, errors.New("sms api url missing")
	}
	key, err := decryptAPIKey(enc, cfg.Notifications.SMSAPIKeyEnc)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Notifications.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSMSSender{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(cfg.Notifications.SMSAPIURL, "/"),
		apiKey: key,
		from:   cfg.Notifications.SMSFromNumber,
	}, nil
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, msg SMSMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("sms recipient missing")
	}
	if strings.TrimSpace(msg.From) == "" {
		msg.From = s.from
	}
	body := map[string]any{
		"to":   msg.To,
		"from": msg.From,
		"text": msg.Text,
	}
	return postJSON(ctx, s.client, s.url+"/sms", s.apiKey, body)
}

func decryptAPIKey(enc *utils.Encryptor, hexBlob string) (string, error) {
	raw := strings.TrimSpace(hexBlob)
	if raw == "" {
		return "", nil
	}
	if enc == nil {
		return "", errors.New("encryptor unavailable")
	}
	blob, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode api key: %w", err)
	}
	plain, err := enc.DecryptBlob(blob)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return string(plain), nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, payload map[string]any) error {
	raw, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("notify api status %d", resp.StatusCode)
}
