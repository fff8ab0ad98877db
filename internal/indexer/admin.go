package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sentrel/sentrel/internal/schema"
)

// Initialize bootstraps the index template, lifecycle policy and today's
// index. Template and index failures are returned; the lifecycle policy is
// advisory because the ISM plugin is not present on every cluster.
func (ix *Indexer) Initialize(ctx context.Context) error {
	info, err := ix.client.Info()
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := ix.EnsureTemplate(ctx); err != nil {
		return fmt.Errorf("failed to install index template: %w", err)
	}

	if err := ix.EnsureISMPolicy(ctx); err != nil {
		slog.Warn("failed to install ISM policy, lifecycle management disabled",
			slog.String("error", err.Error()),
		)
	}

	if err := ix.EnsureIndex(ctx, ix.IndexName(time.Now())); err != nil {
		return fmt.Errorf("failed to create initial index: %w", err)
	}

	slog.Info("opensearch initialized", slog.String("index_prefix", ix.config.IndexPrefix))
	return nil
}

// EnsureTemplate installs or updates the composable index template.
func (ix *Indexer) EnsureTemplate(ctx context.Context) error {
	body, err := json.Marshal(schema.IndexTemplate(ix.config.IndexPrefix))
	if err != nil {
		return err
	}

	res, err := ix.client.Indices.PutIndexTemplate(
		ix.config.IndexPrefix+"-template",
		bytes.NewReader(body),
		ix.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(res.Body)
		return fmt.Errorf("template install failed: %s - %s", res.Status(), string(detail))
	}
	return nil
}

// EnsureISMPolicy installs the lifecycle policy via the ISM plugin API.
// A 409 means the policy already exists and is left as-is.
func (ix *Indexer) EnsureISMPolicy(ctx context.Context) error {
	body, err := json.Marshal(schema.ISMPolicy(ix.config.IndexPrefix))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		"/_plugins/_ism/policies/"+ix.config.IndexPrefix+"-policy",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := ix.client.Transport.Perform(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 && res.StatusCode != http.StatusConflict {
		detail, _ := io.ReadAll(res.Body)
		return fmt.Errorf("policy install failed: %d - %s", res.StatusCode, string(detail))
	}
	return nil
}

// EnsureIndex creates the named index if it does not already exist.
// Concurrent creation races resolve as success.
func (ix *Indexer) EnsureIndex(ctx context.Context, name string) error {
	exists, err := ix.client.Indices.Exists(
		[]string{name},
		ix.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	res, err := ix.client.Indices.Create(
		name,
		ix.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(res.Body)
		if strings.Contains(string(detail), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("index creation failed: %s - %s", res.Status(), string(detail))
	}
	return nil
}
