package facematch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable marks transport-level failures talking to the face
// matching service: timeouts, connection refusals, non-2xx statuses.
// Callers must treat it as "could not verify", never as "not matched".
var ErrUnavailable = errors.New("face matching service unavailable")

// Candidate is the member record the service matched the probe image to.
type Candidate struct {
	MemberPK    int64  `json:"member_pk"`
	GymMemberID string `json:"gym_member_id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Name        string `json:"name"`
}

// Result is the service's verdict for one probe image. Matched=false
// with OK=true is a definitive rejection; Error carries the service's
// own wording for it.
type Result struct {
	OK        bool       `json:"ok"`
	Matched   bool       `json:"matched"`
	Candidate *Candidate `json:"candidate"`
	BestScore float64    `json:"best_score"`
	Error     string     `json:"error"`
}

type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type validateRequest struct {
	ImageB64 string `json:"image_b64"`
}

// ValidateFace submits a base64-encoded JPEG to the matching service
// and returns its verdict. The image is already liveness-gated; this
// call only answers "whose face is this".
func (c *Client) ValidateFace(ctx context.Context, imageB64 string) (*Result, error) {
	jsonData, err := json.Marshal(validateRequest{ImageB64: imageB64})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}

	if result.Matched && result.Candidate == nil {
		return nil, fmt.Errorf("%w: matched without candidate", ErrUnavailable)
	}

	return &result, nil
}
