package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// LogSender writes the invitation link to the log.
type LogSender struct{}

func (LogSender) Send(_ context.Context, invite Invite) error {
	log.Printf("INFO notify: invitation email=%s org=%q role=%s resent=%t link=%s",
		invite.Email, invite.OrganizationName, invite.Role, invite.Resent, invite.Link)
	return nil
}

// SlackSender posts invitations to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string        `json:"type"`
	Text     *slackText    `json:"text,omitempty"`
	Fields   []*slackText  `json:"fields,omitempty"`
	Elements []slackButton `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackButton struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
	URL  string    `json:"url"`
}

func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSender) Send(ctx context.Context, invite Invite) error {
	reqBody, err := json.Marshal(buildInviteMessage(invite))
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("slack error: %d %s", resp.StatusCode, string(body))
	}
	return nil
}

func buildInviteMessage(invite Invite) slackMessage {
	inviter := invite.InviterName
	if inviter == "" {
		inviter = invite.InviterEmail
	}
	headline := fmt.Sprintf("Invitation to %s", invite.OrganizationName)
	if invite.Resent {
		headline = "Reminder: " + headline
	}

	return slackMessage{
		Text: fmt.Sprintf("%s invited %s to %s: %s", inviter, invite.Email, invite.OrganizationName, invite.Link),
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: headline, Emoji: true},
			},
			{
				Type: "section",
				Fields: []*slackText{
					{Type: "mrkdwn", Text: "*Invitee:*\n" + invite.Email},
					{Type: "mrkdwn", Text: "*Role:*\n" + invite.Role},
					{Type: "mrkdwn", Text: "*Invited by:*\n" + inviter},
					{Type: "mrkdwn", Text: "*Expires:*\n" + invite.ExpiresAt.UTC().Format(time.RFC1123)},
				},
			},
			{
				Type: "actions",
				Elements: []slackButton{{
					Type: "button",
					Text: slackText{Type: "plain_text", Text: "Accept invitation"},
					URL:  invite.Link,
				}},
			},
		},
	}
}
