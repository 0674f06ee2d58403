package callsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// CommunicationMode selects the media of a conversation.
type CommunicationMode string

const (
	CommunicationMode_AudioVideo CommunicationMode = "AUDIO_VIDEO"
	CommunicationMode_Audio      CommunicationMode = "AUDIO"
	CommunicationMode_Chat       CommunicationMode = "CHAT"
)

type Conversation struct {
	MeetingRoomId string `json:"meetingRoomId"`
}

type CallJoinStatus struct {
	ShouldJoinCall string `json:"shouldJoinCall"`
	DisplayText    string `json:"displayText"`
}

// AutoJoin reports whether the room should be joined without user action.
func (s CallJoinStatus) AutoJoin() bool {
	return !strings.EqualFold(s.ShouldJoinCall, "false")
}

type ConversationStatus struct {
	MeetingRoomId  string         `json:"meetingRoomId"`
	CallJoinStatus CallJoinStatus `json:"callJoinStatus"`
}

// Gateway is the Auth/Room HTTP API.
type Gateway interface {
	Auth(ctx context.Context, name, phone string) (string, error)
	CreateConversation(ctx context.Context, authToken string) (*Conversation, error)
	SelectCommunicationMode(ctx context.Context, authToken string, mode CommunicationMode) error
	CheckStatus(ctx context.Context, authToken string) (*ConversationStatus, error)
}

// HTTPError is returned for a non 2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("http request failed [status:%s]", e.Status)
}

// HTTPGateway talks to the widget API over HTTP.
type HTTPGateway struct {
	baseURL      string
	websiteToken string
	httpClient   *http.Client
	telemetry    Telemetry
	logger       logr.Logger
}

func NewHTTPGateway(baseURL, websiteToken string, timeout time.Duration, telemetry Telemetry, logger logr.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if telemetry == nil {
		telemetry = NewLogTelemetry(logger)
	}
	return &HTTPGateway{
		baseURL:      strings.TrimRight(baseURL, "/"),
		websiteToken: websiteToken,
		httpClient:   &http.Client{Timeout: timeout},
		telemetry:    telemetry,
		logger:       logger,
	}
}

func (g *HTTPGateway) Auth(ctx context.Context, name, phone string) (string, error) {
	g.telemetry.SendLog("API:doAuth", nil)

	body, err := json.Marshal(H{"name": name, "phone": phone})
	if err != nil {
		return "", err
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := g.do(ctx, http.MethodPost, g.widgetPath("auth"), "", body, &result); err != nil {
		g.telemetry.SendLog("API:doAuth failed", map[string]interface{}{"error": err.Error()})
		return "", err
	}
	if len(result.Token) == 0 {
		err := fmt.Errorf("%w: token", ErrMissingField)
		g.telemetry.SendLog("API:doAuth failed", map[string]interface{}{"error": err.Error()})
		return "", err
	}
	g.telemetry.SendLog("API:doAuth succeed", nil)

	return result.Token, nil
}

func (g *HTTPGateway) CreateConversation(ctx context.Context, authToken string) (*Conversation, error) {
	g.telemetry.SendLog("API:createConversation", nil)

	var result struct {
		Data []Conversation `json:"data"`
	}
	if err := g.do(ctx, http.MethodGet, g.widgetPath("conversation"), authToken, nil, &result); err != nil {
		g.telemetry.SendLog("API:createConversation failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	if len(result.Data) == 0 || len(result.Data[0].MeetingRoomId) == 0 {
		err := fmt.Errorf("%w: data[0].meetingRoomId", ErrMissingField)
		g.telemetry.SendLog("API:createConversation failed", map[string]interface{}{"error": "Conversation is empty"})
		return nil, err
	}
	conversation := result.Data[0]

	g.telemetry.SendLog("API:createConversation succeed", map[string]interface{}{"meetingRoomId": conversation.MeetingRoomId})

	return &conversation, nil
}

func (g *HTTPGateway) SelectCommunicationMode(ctx context.Context, authToken string, mode CommunicationMode) error {
	g.telemetry.SendLog("API:selectCommunicationMode", nil)

	path := g.widgetPath("conversation/" + url.PathEscape(string(mode)))

	if err := g.do(ctx, http.MethodPost, path, authToken, nil, nil); err != nil {
		g.telemetry.SendLog("API:selectCommunicationMode failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	g.telemetry.SendLog("API:selectCommunicationMode succeed", nil)

	return nil
}

func (g *HTTPGateway) CheckStatus(ctx context.Context, authToken string) (*ConversationStatus, error) {
	g.telemetry.SendLog("API:checkStatus", nil)

	var status ConversationStatus

	if err := g.do(ctx, http.MethodPost, "/v1/widget/call-order/status", authToken, nil, &status); err != nil {
		g.telemetry.SendLog("API:checkStatus failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	if len(status.MeetingRoomId) == 0 {
		err := fmt.Errorf("%w: meetingRoomId", ErrMissingField)
		g.telemetry.SendLog("API:checkStatus failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	g.telemetry.SendLog("API:checkStatus succeed", map[string]interface{}{"meetingRoomId": status.MeetingRoomId})

	return &status, nil
}

func (g *HTTPGateway) widgetPath(suffix string) string {
	return fmt.Sprintf("/v1/widget/website-token/%s/%s", url.PathEscape(g.websiteToken), suffix)
}

// do sends one request. A nil result ignores the response body, which may
// then be empty.
func (g *HTTPGateway) do(ctx context.Context, method, path, authToken string, body []byte, result interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(authToken) > 0 {
		req.Header.Set("Authorization", "jwt "+authToken)
	}

	g.logger.V(1).Info("http request", "method", method, "path", path)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error(err, "http request failed", "method", method, "path", path)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Info("incorrect response", "method", method, "path", path, "status", resp.Status)
		return HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	}
	if result == nil || len(bytes.TrimSpace(data)) == 0 {
		if result != nil {
			return fmt.Errorf("%w: empty response body", ErrMalformedMessage)
		}
		return nil
	}

	return decodeCamelized(data, result)
}

// decodeCamelized unmarshals data into v after renaming snake_case object
// keys to camelCase, so both spellings of a field are accepted.
func decodeCamelized(data []byte, v interface{}) error {
	var tree interface{}

	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	normalized, err := json.Marshal(camelizeKeys(tree))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(normalized, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func camelizeKeys(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(value))
		for k, item := range value {
			result[snakeToCamel(k)] = camelizeKeys(item)
		}
		return result
	case []interface{}:
		for i, item := range value {
			value[i] = camelizeKeys(item)
		}
		return value
	default:
		return v
	}
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder

	b.WriteString(parts[0])
	for _, part := range parts[1:] {
		if len(part) == 0 {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
