package services

import (
	"context"
	"fmt"
	"io"
)

const maxImageBytes = 20 * 1024 * 1024

// ImageFetcher resolves an opaque image URL into raw bytes. Receipts
// ingested through the upload endpoint live in our bucket (s3:// URLs);
// receipts ingested by URL reference are fetched over HTTP.
type ImageFetcher struct {
	storage *StorageService
	client  *RetryingClient
}

// NewImageFetcher creates a fetcher over the storage service and HTTP client
func NewImageFetcher(storage *StorageService, client *RetryingClient) *ImageFetcher {
	return &ImageFetcher{storage: storage, client: client}
}

// Fetch returns the image bytes behind the URL
func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	if _, key, ok := ParseObjectURL(imageURL); ok {
		if f.storage == nil {
			return nil, fmt.Errorf("no storage configured for %s", imageURL)
		}
		obj, err := f.storage.Download(ctx, key)
		if err != nil {
			return nil, err
		}
		defer obj.Close()
		return readCapped(obj)
	}

	resp, err := f.client.Get(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("image fetch returned status %s", resp.Status)
	}
	return readCapped(resp.Body)
}

func readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", maxImageBytes)
	}
	return data, nil
}
