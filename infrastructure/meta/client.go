package meta

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/core/config"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
)

// Client talks to the WhatsApp Cloud API (graph.facebook.com). One client is
// shared across connections; the access token is passed per call because each
// official-api connection carries its own credential.
type Client struct {
	http       *resty.Client
	apiVersion string
}

func NewClient(cfg config.MetaConfig) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: http, apiVersion: cfg.APIVersion}
}

type textPayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textContent `json:"text"`
}

type textContent struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *graphError `json:"error"`
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// SendText delivers a text message through a phone number id and returns the
// provider message id.
func (c *Client) SendText(ctx context.Context, phoneNumberID, accessToken, to, body string) (string, error) {
	var out sendResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(textPayload{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "text",
			Text:             textContent{Body: body},
		}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/%s/%s/messages", c.apiVersion, phoneNumberID))
	if err != nil {
		// Transport failure: timeout, DNS, refused connection.
		return "", &apperr.ProviderError{Provider: "meta", Code: 0, Message: err.Error()}
	}

	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil {
			msg = out.Error.Message
		}
		logrus.WithFields(logrus.Fields{
			"status": resp.StatusCode(),
			"phone":  phoneNumberID,
		}).Error("[META] send failed: " + msg)
		return "", &apperr.ProviderError{Provider: "meta", Code: resp.StatusCode(), Message: msg}
	}

	if len(out.Messages) == 0 {
		return "", &apperr.ProviderError{Provider: "meta", Code: resp.StatusCode(), Message: "response carried no message id"}
	}
	return out.Messages[0].ID, nil
}

// VerifyToken checks the credential against the phone number endpoint.
func (c *Client) VerifyToken(ctx context.Context, phoneNumberID, accessToken string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Get(fmt.Sprintf("/%s/%s", c.apiVersion, phoneNumberID))
	if err != nil {
		return &apperr.ProviderError{Provider: "meta", Code: 0, Message: err.Error()}
	}
	if resp.IsError() {
		return &apperr.ProviderError{Provider: "meta", Code: resp.StatusCode(), Message: resp.Status()}
	}
	return nil
}
