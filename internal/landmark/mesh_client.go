package landmark

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"
)

// MeshClient talks to the external face-mesh service over HTTP. The
// service wraps a MediaPipe FaceMesh model; one tracked face, refined
// eye landmarks, normalized keypoints.
type MeshClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewMeshClient(baseURL string) *MeshClient {
	return &MeshClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type meshRequest struct {
	ImageB64        string `json:"image_b64"`
	MaxFaces        int    `json:"max_faces"`
	RefineLandmarks bool   `json:"refine_landmarks"`
}

type meshResponse struct {
	Faces []struct {
		Keypoints []Point `json:"keypoints"`
	} `json:"faces"`
	Error string `json:"error,omitempty"`
}

// Warmup asks the mesh service to initialize its model. A non-2xx
// answer means the capability is unavailable.
func (c *MeshClient) Warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/warmup", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mesh service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mesh service warmup returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// EstimateFace submits a frame and returns the tracked face, or nil
// when the service reports no face.
func (c *MeshClient) EstimateFace(ctx context.Context, frame image.Image) (*LandmarkFrame, error) {
	var imgBuf bytes.Buffer
	if err := jpeg.Encode(&imgBuf, frame, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	reqBody := meshRequest{
		ImageB64:        base64.StdEncoding.EncodeToString(imgBuf.Bytes()),
		MaxFaces:        1,
		RefineLandmarks: true,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/estimate-faces", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mesh service returned status %d: %s", resp.StatusCode, string(body))
	}

	var meshResp meshResponse
	if err := json.Unmarshal(body, &meshResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if meshResp.Error != "" {
		return nil, fmt.Errorf("mesh service error: %s", meshResp.Error)
	}
	if len(meshResp.Faces) == 0 {
		return nil, nil
	}

	return &LandmarkFrame{Keypoints: meshResp.Faces[0].Keypoints}, nil
}
