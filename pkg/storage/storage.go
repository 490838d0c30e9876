package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/troikatech/calling-agent/pkg/client"
)

type Driver interface {
	GetRecordingURL(callSID string) (string, error)
	DownloadRecording(callSID string, exotelURL string) error
}

// Uploader is implemented by drivers that can publish a generated audio
// asset (TTS output) and hand back a URL the telephony provider can fetch.
// Not every Driver supports it, so it's a separate, optional interface.
type Uploader interface {
	Upload(folder, key string, body io.Reader, contentType string) (url string, err error)
	Delete(folder, key string) error
}

type ExotelProxyDriver struct {
	exotelBaseURL string
}

func NewExotelProxyDriver(accountSID string) *ExotelProxyDriver {
	return &ExotelProxyDriver{
		exotelBaseURL: fmt.Sprintf("https://api.exotel.com/v1/Accounts/%s", accountSID),
	}
}

func (d *ExotelProxyDriver) GetRecordingURL(callSID string) (string, error) {
	if callSID == "" {
		return "", fmt.Errorf("callSID is required")
	}
	return fmt.Sprintf("%s/Calls/%s/Recording.mp3", d.exotelBaseURL, callSID), nil
}

func (d *ExotelProxyDriver) DownloadRecording(callSID string, exotelURL string) error {
	return nil
}

type LocalDriver struct {
	basePath string
}

func NewLocalDriver(basePath string) *LocalDriver {
	if basePath == "" {
		basePath = "/data/audio"
	}
	return &LocalDriver{basePath: basePath}
}

func (d *LocalDriver) GetRecordingURL(callSID string) (string, error) {
	if callSID == "" {
		return "", fmt.Errorf("callSID is required")
	}
	return fmt.Sprintf("/recordings/%s.mp3", callSID), nil
}

func (d *LocalDriver) DownloadRecording(callSID string, exotelURL string) error {
	if err := os.MkdirAll(d.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	resp, err := http.Get(exotelURL)
	if err != nil {
		return fmt.Errorf("failed to download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download recording: status %d", resp.StatusCode)
	}

	filePath := filepath.Join(d.basePath, fmt.Sprintf("%s.mp3", callSID))
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Upload satisfies Uploader by writing into a subfolder of basePath and
// returning a path the rest of the platform serves as a static asset.
func (d *LocalDriver) Upload(folder, key string, body io.Reader, contentType string) (string, error) {
	dir := filepath.Join(d.basePath, folder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	filePath := filepath.Join(dir, key)
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, body); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("/assets/%s/%s", folder, key), nil
}

func (d *LocalDriver) Delete(folder, key string) error {
	filePath := filepath.Join(d.basePath, folder, key)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CDNDriver publishes assets to an external object-storage endpoint over
// signed PUT requests, built on pkg/client.HTTPClient so uploads get the
// same retry and circuit-breaker protection as the other outbound
// integrations rather than a bare http.Client.
type CDNDriver struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *client.HTTPClient
}

func NewCDNDriver(baseURL, accessKey, secretKey string) *CDNDriver {
	return &CDNDriver{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		secretKey: secretKey,
		http:      client.NewHTTPClient("cdn", 15*time.Second),
	}
}

func (d *CDNDriver) GetRecordingURL(callSID string) (string, error) {
	if callSID == "" {
		return "", fmt.Errorf("callSID is required")
	}
	return fmt.Sprintf("%s/recordings/%s.mp3", d.baseURL, callSID), nil
}

func (d *CDNDriver) DownloadRecording(callSID string, exotelURL string) error {
	return fmt.Errorf("CDN driver does not proxy recording downloads")
}

func (d *CDNDriver) Upload(folder, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read upload body: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s", d.baseURL, folder, key)
	resp, err := d.http.PutRaw(context.Background(), url, data, contentType, map[string]string{
		"X-Access-Key": d.accessKey,
		"X-Secret-Key": d.secretKey,
	})
	if err != nil {
		return "", fmt.Errorf("cdn upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("cdn upload failed: status %d", resp.StatusCode)
	}
	return url, nil
}

func (d *CDNDriver) Delete(folder, key string) error {
	url := fmt.Sprintf("%s/%s/%s", d.baseURL, folder, key)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Access-Key", d.accessKey)
	req.Header.Set("X-Secret-Key", d.secretKey)
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("cdn delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("cdn delete failed: status %d", resp.StatusCode)
	}
	return nil
}

func NewDriver(driverType string, accountSID string, localPath string) (Driver, error) {
	switch strings.ToLower(driverType) {
	case "exotel-proxy", "proxy":
		return NewExotelProxyDriver(accountSID), nil
	case "local":
		return NewLocalDriver(localPath), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driverType)
	}
}

// NewUploader builds the CDN uploader used by the TTS Materializer. Local
// deployments reuse LocalDriver (serving assets off disk); anything else
// goes to the configured CDN endpoint.
func NewUploader(driverType, publicBaseURL, accessKey, secretKey, localPath string) Uploader {
	if strings.ToLower(driverType) == "local" {
		return NewLocalDriver(localPath)
	}
	return NewCDNDriver(publicBaseURL, accessKey, secretKey)
}
