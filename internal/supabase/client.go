package supabase

import (
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
	"parkbeat-backend/internal/config"
)

type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(strings.TrimSuffix(cfg.SupabaseURL, "/"), cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

// Storage returns a bucket-scoped storage client sharing the supabase client's connection.
func (c *Client) Storage() *StorageClient {
	return newStorageClientFrom(c.Supabase.Storage, c.Config.SupabaseURL, c.Config.SupabaseStorageBucket)
}
