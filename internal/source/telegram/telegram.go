// Package telegram implements the source contract on top of the MTProto
// client from gotd/td. Unlike the Bot API, MTProto can page through a
// chat's full history, which the backfill requires.
package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"github.com/nisilag/telegram-analysis-service/internal/source"
)

// Config holds the MTProto credentials and the single chat this client is
// bound to.
type Config struct {
	APIID       int
	APIHash     string
	SessionFile string
	ChatID      int64
	Phone       string
}

// Client is a source.Source backed by a user-mode MTProto session. Run must
// be started before any fetch method is used; fetches block until the
// connection is up and the target peer is resolved.
type Client struct {
	logger     *slog.Logger
	cfg        Config
	client     *telegram.Client
	dispatcher tg.UpdateDispatcher

	ready chan struct{}
	api   *tg.Client
	peer  tg.InputPeerClass

	mu     sync.Mutex
	onNew  source.NewMessageHandler
	onEdit source.NewMessageHandler

	// usernames caches user id -> username seen in fetch results and
	// update entities.
	unMu      sync.Mutex
	usernames map[int64]string
}

var _ source.Source = (*Client)(nil)

// NewClient builds the MTProto client. The session is persisted to
// cfg.SessionFile so restarts do not repeat the login flow.
func NewClient(logger *slog.Logger, cfg Config) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dispatcher := tg.NewUpdateDispatcher()

	c := &Client{
		logger:     logger.With("component", "telegram_source", "chat_id", cfg.ChatID),
		cfg:        cfg,
		dispatcher: dispatcher,
		ready:      make(chan struct{}),
		usernames:  make(map[int64]string),
	}

	c.client = telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{Path: cfg.SessionFile},
		UpdateHandler:  dispatcher,
	})

	dispatcher.OnNewChannelMessage(c.handleNewChannelMessage)
	dispatcher.OnNewMessage(c.handleNewMessage)
	dispatcher.OnEditChannelMessage(c.handleEditChannelMessage)
	dispatcher.OnEditMessage(c.handleEditMessage)

	return c
}

// Run connects, authorizes and resolves the target peer, then keeps the
// connection alive until ctx is cancelled. It must run concurrently with
// the consumers of the fetch methods.
func (c *Client) Run(ctx context.Context) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.authorize(ctx); err != nil {
			return err
		}

		c.api = c.client.API()
		peer, err := c.resolvePeer(ctx)
		if err != nil {
			return fmt.Errorf("resolving chat %d: %w", c.cfg.ChatID, err)
		}
		c.peer = peer
		close(c.ready)
		c.logger.Info("telegram source connected")

		<-ctx.Done()
		return ctx.Err()
	})
}

func (c *Client) authorize(ctx context.Context) error {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("checking auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if c.cfg.Phone == "" {
		return errors.New("session is not authorized and no phone is configured; " +
			"set telegram.phone to run the interactive login once")
	}

	c.logger.Info("starting interactive login", "phone", c.cfg.Phone)
	flow := auth.NewFlow(
		auth.Constant(c.cfg.Phone, "", auth.CodeAuthenticatorFunc(promptCode)),
		auth.SendCodeOptions{},
	)
	if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("login flow: %w", err)
	}
	return nil
}

func promptCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Print("Enter the login code sent by Telegram: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

// Subscribe registers the live callbacks. Must be called before updates
// start flowing; registering twice replaces the handlers.
func (c *Client) Subscribe(onNew, onEdit source.NewMessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNew = onNew
	c.onEdit = onEdit
}

// Listen blocks until ctx is cancelled. Updates are delivered by the
// connection owned by Run, so there is nothing to poll here.
func (c *Client) Listen(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ready:
	}
	<-ctx.Done()
	return ctx.Err()
}

// waitReady blocks until Run has connected and resolved the peer.
func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ready:
		return nil
	}
}

func (c *Client) handlers() (onNew, onEdit source.NewMessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onNew, c.onEdit
}

func (c *Client) handleNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	c.rememberEntities(e)
	return c.dispatch(ctx, u.Message, false)
}

func (c *Client) handleNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	c.rememberEntities(e)
	return c.dispatch(ctx, u.Message, false)
}

func (c *Client) handleEditChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
	c.rememberEntities(e)
	return c.dispatch(ctx, u.Message, true)
}

func (c *Client) handleEditMessage(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
	c.rememberEntities(e)
	return c.dispatch(ctx, u.Message, true)
}

func (c *Client) dispatch(ctx context.Context, raw tg.MessageClass, edit bool) error {
	msg, ok := raw.(*tg.Message)
	if !ok {
		return nil
	}
	converted := c.convert(msg)
	if converted.ChatID != c.cfg.ChatID {
		return nil
	}

	onNew, onEdit := c.handlers()
	if edit {
		if onEdit != nil {
			onEdit(ctx, converted)
		}
		return nil
	}
	if onNew != nil {
		onNew(ctx, converted)
	}
	return nil
}

func (c *Client) rememberEntities(e tg.Entities) {
	c.unMu.Lock()
	defer c.unMu.Unlock()
	for id, u := range e.Users {
		if u.Username != "" {
			c.usernames[id] = u.Username
		}
	}
}

func (c *Client) rememberUsers(users []tg.UserClass) {
	c.unMu.Lock()
	defer c.unMu.Unlock()
	for _, uc := range users {
		u, ok := uc.(*tg.User)
		if !ok {
			continue
		}
		if un, ok := u.GetUsername(); ok && un != "" {
			c.usernames[u.ID] = un
		}
	}
}

func (c *Client) lookupUsername(id int64) *string {
	c.unMu.Lock()
	defer c.unMu.Unlock()
	if un, ok := c.usernames[id]; ok {
		return &un
	}
	return nil
}
