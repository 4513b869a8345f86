package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BetNotification is posted to NOTIFY_URL when an indexed bet opens or ends.
type BetNotification struct {
	Kind    string `json:"kind"`
	Mode    string `json:"mode"`
	BetID   string `json:"betId"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2,omitempty"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
	State   string `json:"state"`
	Winner  string `json:"winner,omitempty"`
	Payout  string `json:"payout,omitempty"`
}

// Notifier posts bet notifications. A nil Notifier drops them.
type Notifier struct {
	url    string
	client *http.Client
}

func NewNotifier(url string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *Notifier) Notify(ctx context.Context, kind string, bet *Bet) error {
	if n == nil {
		return nil
	}
	body, err := json.Marshal(&BetNotification{
		Kind:    kind,
		Mode:    bet.Mode,
		BetID:   bet.BetID,
		Player1: bet.Player1,
		Player2: bet.Player2,
		Token:   bet.Token,
		Amount:  bet.Amount,
		State:   bet.State.String(),
		Winner:  bet.Winner,
		Payout:  bet.Payout,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
