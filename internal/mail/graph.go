// Package mail sends report workbooks through the Microsoft Graph sendMail
// endpoint using an application (client credentials) grant.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2/clientcredentials"
)

const graphScope = "https://graph.microsoft.com/.default"

// Config holds the app registration and message routing details.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the message is sent as; the app registration
	// needs Mail.Send for it.
	Sender     string
	Recipients []string
	// Endpoint overrides the Graph base URL. Empty means the public cloud.
	Endpoint string
}

// Mailer posts messages to Graph. Zero value is not usable; call New.
type Mailer struct {
	cfg    Config
	client *http.Client
	base   string
}

// New validates cfg and prepares an HTTP client that injects app tokens.
func New(ctx context.Context, cfg Config) (*Mailer, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("mail: tenant id, client id and client secret are all required")
	}
	if cfg.Sender == "" {
		return nil, fmt.Errorf("mail: sender mailbox is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("mail: at least one recipient is required")
	}

	oauth := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{graphScope},
	}

	base := cfg.Endpoint
	if base == "" {
		base = "https://graph.microsoft.com/v1.0"
	}
	return &Mailer{cfg: cfg, client: oauth.Client(ctx), base: base}, nil
}

type recipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func toRecipients(addrs []string) []recipient {
	out := make([]recipient, len(addrs))
	for i, addr := range addrs {
		out[i].EmailAddress.Address = addr
	}
	return out
}

type fileAttachment struct {
	Type         string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type sendMailRequest struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []recipient      `json:"toRecipients"`
		Attachments  []fileAttachment `json:"attachments,omitempty"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

func buildSendMail(recipients []string, subject, body, fileName string, data []byte) ([]byte, error) {
	req := sendMailRequest{SaveToSentItems: true}
	req.Message.Subject = subject
	req.Message.Body.ContentType = "Text"
	req.Message.Body.Content = body
	req.Message.ToRecipients = toRecipients(recipients)
	req.Message.Attachments = []fileAttachment{{
		Type:         "#microsoft.graph.fileAttachment",
		Name:         fileName,
		ContentType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		ContentBytes: base64.StdEncoding.EncodeToString(data),
	}}
	return json.Marshal(req)
}

// SendReport mails the workbook at attachmentPath to the configured
// recipients.
func (m *Mailer) SendReport(ctx context.Context, subject, body, attachmentPath string) error {
	data, err := os.ReadFile(attachmentPath)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}

	payload, err := buildSendMail(m.cfg.Recipients, subject, body, filepath.Base(attachmentPath), data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/sendMail", m.base, m.cfg.Sender)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("send mail: graph returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
