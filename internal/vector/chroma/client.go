// Package chroma provides ChromaDB vector database integration for mnemo.
//
// The database is reached through the chroma-mcp server, run as a
// subprocess and driven with MCP tool calls over stdio.
package chroma

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/mnemo/internal/vector"
)

// ErrNotConnected is returned by operations attempted while the backend is down.
var ErrNotConnected = errors.New("chroma backend not connected")

const (
	protocolVersion   = "2024-11-05"
	defaultCollection = "mnemo"
	defaultMaxElapsed = 30 * time.Second

	// DefaultSuperviseInterval is how often Supervise checks the connection.
	DefaultSuperviseInterval = 30 * time.Second
)

// Config configures the chroma-mcp subprocess.
type Config struct {
	Command    string
	Collection string
	Args       []string
	MaxElapsed time.Duration // connect retry budget
}

// transport is one live channel to the server.
type transport struct {
	r     io.Reader
	w     io.Writer
	close func() error
}

type dialFunc func(ctx context.Context) (*transport, error)

// Client is a vector.Client backed by chroma-mcp.
type Client struct {
	conn      *rpcConn
	tr        *transport
	dial      dialFunc
	cfg       Config
	group     singleflight.Group
	mu        sync.RWMutex
	connected atomic.Bool
}

var _ vector.Client = (*Client)(nil)

// NewClient creates an unconnected client. Call Connect before use.
func NewClient(cfg Config) *Client {
	return newClientWithDialer(cfg, execDialer(cfg))
}

func newClientWithDialer(cfg Config, dial dialFunc) *Client {
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultMaxElapsed
	}
	return &Client{cfg: cfg, dial: dial}
}

func execDialer(cfg Config) dialFunc {
	return func(ctx context.Context) (*transport, error) {
		if cfg.Command == "" {
			return nil, backoff.Permanent(errors.New("chroma command not configured"))
		}
		// #nosec G204 -- command comes from the local settings file
		cmd := exec.Command(cfg.Command, cfg.Args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		log.Debug().Str("command", cfg.Command).Int("pid", cmd.Process.Pid).Msg("Started chroma-mcp")

		return &transport{
			r: stdout,
			w: stdin,
			close: func() error {
				_ = stdin.Close()
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return nil
			},
		}, nil
	}
}

// Connect starts the backend and performs the MCP handshake, retrying with
// exponential backoff until MaxElapsed.
func (c *Client) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.MaxElapsed

	err := backoff.Retry(func() error {
		return c.connectOnce(ctx)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("connect chroma: %w", err)
	}
	log.Info().Str("collection", c.cfg.Collection).Msg("Connected to ChromaDB")
	return nil
}

// Reconnect coalesces concurrent reconnect attempts into one.
func (c *Client) Reconnect(ctx context.Context) error {
	_, err, _ := c.group.Do("connect", func() (interface{}, error) {
		if c.IsConnected() {
			return nil, nil
		}
		return nil, c.Connect(ctx)
	})
	return err
}

// Supervise reconnects the backend whenever it is found down, checking every
// interval until ctx is done. Search keeps using the lexical index meanwhile.
func (c *Client) Supervise(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSuperviseInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if c.IsConnected() {
			continue
		}
		if err := c.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debug().Err(err).Msg("ChromaDB reconnect failed, retrying later")
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	tr, err := c.dial(ctx)
	if err != nil {
		return err
	}
	conn := newRPCConn(tr.r, tr.w)

	if err := handshake(ctx, conn); err != nil {
		_ = tr.close()
		return err
	}

	c.mu.Lock()
	old := c.tr
	c.conn, c.tr = conn, tr
	c.mu.Unlock()
	if old != nil {
		_ = old.close()
	}
	c.connected.Store(true)

	go c.watch(conn)

	if err := c.ensureCollection(ctx); err != nil {
		c.drop(conn)
		return err
	}
	return nil
}

func handshake(ctx context.Context, conn *rpcConn) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mnemo", "version": "1"},
	}
	if err := conn.call(ctx, "initialize", params, nil); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return conn.notify("notifications/initialized", map[string]any{})
}

// watch marks the client disconnected when the server goes away.
func (c *Client) watch(conn *rpcConn) {
	<-conn.closed()
	c.mu.RLock()
	current := c.conn == conn
	c.mu.RUnlock()
	if current && c.connected.CompareAndSwap(true, false) {
		log.Warn().Msg("ChromaDB connection lost")
	}
}

func (c *Client) drop(conn *rpcConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.connected.Store(false)
	if c.tr != nil {
		_ = c.tr.close()
	}
	c.conn, c.tr = nil, nil
}

func (c *Client) ensureCollection(ctx context.Context) error {
	_, err := c.callTool(ctx, "chroma_get_collection_info", map[string]any{"collection_name": c.cfg.Collection})
	if err == nil {
		return nil
	}
	_, err = c.callTool(ctx, "chroma_create_collection", map[string]any{"collection_name": c.cfg.Collection})
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("create collection %s: %w", c.cfg.Collection, err)
	}
	return nil
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// callTool invokes an MCP tool and returns its text output.
func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !c.connected.Load() {
		return "", ErrNotConnected
	}

	var res toolResult
	err := conn.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &res)
	if err != nil {
		if errors.Is(err, errConnClosed) {
			c.drop(conn)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}

	var text strings.Builder
	for _, part := range res.Content {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("%s: %s", name, text.String())
	}
	return text.String(), nil
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float64        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Query implements vector.Client.
func (c *Client) Query(ctx context.Context, query string, limit int, where map[string]any) ([]vector.QueryResult, error) {
	args := map[string]any{
		"collection_name": c.cfg.Collection,
		"query_texts":     []string{query},
		"n_results":       limit,
		"include":         []string{"metadatas", "distances"},
	}
	if filter := chromaWhere(where); filter != nil {
		args["where"] = filter
	}

	text, err := c.callTool(ctx, "chroma_query_documents", args)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]vector.QueryResult, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		results[i].ID = id
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			results[i].Distance = resp.Distances[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			results[i].Metadata = resp.Metadatas[0][i]
		}
	}
	return results, nil
}

// chromaWhere converts a flat equality map into Chroma's filter syntax,
// which needs an explicit $and for more than one condition.
func chromaWhere(where map[string]any) map[string]any {
	switch len(where) {
	case 0:
		return nil
	case 1:
		return where
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]map[string]any, len(keys))
	for i, k := range keys {
		conds[i] = map[string]any{k: where[k]}
	}
	return map[string]any{"$and": conds}
}

// AddDocuments implements vector.Client. Existing ids are replaced.
func (c *Client) AddDocuments(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	contents := make([]string, len(docs))
	metadatas := make([]map[string]any, len(docs))
	for i, d := range docs {
		ids[i], contents[i], metadatas[i] = d.ID, d.Content, d.Metadata
	}

	if err := c.DeleteDocuments(ctx, ids); err != nil {
		log.Debug().Err(err).Msg("Pre-delete before add failed")
	}
	_, err := c.callTool(ctx, "chroma_add_documents", map[string]any{
		"collection_name": c.cfg.Collection,
		"documents":       contents,
		"ids":             ids,
		"metadatas":       metadatas,
	})
	return err
}

// DeleteDocuments implements vector.Client.
func (c *Client) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.callTool(ctx, "chroma_delete_documents", map[string]any{
		"collection_name": c.cfg.Collection,
		"ids":             ids,
	})
	return err
}

// IsConnected implements vector.Client.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close stops the subprocess.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected.Store(false)
	var err error
	if c.tr != nil {
		err = c.tr.close()
	}
	c.conn, c.tr = nil, nil
	return err
}
