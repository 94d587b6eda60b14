package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/beekhof/mailclash/internal/model"
)

const (
	// DefaultQuery selects messages that look like calendar invitations.
	DefaultQuery = "invite from:*.ics"
	// DefaultPageSize bounds the number of candidates per account.
	DefaultPageSize = 5
	// DefaultTimeout bounds each Gmail request.
	DefaultTimeout = 10 * time.Second
)

// SourceConfig tunes the Gmail source.
type SourceConfig struct {
	Query    string
	PageSize int64
	Timeout  time.Duration
	APIKey   string
}

// GmailSource lists and fetches candidate messages for one access token at a time.
type GmailSource struct {
	cfg     SourceConfig
	options []option.ClientOption
	logger  zerolog.Logger
}

// NewGmailSource creates a source. Extra client options are appended to every
// service it builds (e.g. option.WithEndpoint).
func NewGmailSource(cfg SourceConfig, logger zerolog.Logger, opts ...option.ClientOption) *GmailSource {
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &GmailSource{
		cfg:     cfg,
		options: opts,
		logger:  logger.With().Str("component", "gmail").Logger(),
	}
}

func (s *GmailSource) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, s.options...)
	return gmail.NewService(ctx, opts...)
}

func (s *GmailSource) callOptions() []googleapi.CallOption {
	if s.cfg.APIKey == "" {
		return nil
	}
	return []googleapi.CallOption{googleapi.QueryParameter("key", s.cfg.APIKey)}
}

// FetchCandidates returns up to PageSize candidate messages. A rejected token
// yields model.ErrUnauthorized and a failed listing yields model.ErrFetchFailed.
// A message that cannot be fetched on its own is skipped.
func (s *GmailSource) FetchCandidates(ctx context.Context, accessToken string) ([]Message, error) {
	svc, err := s.service(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gmail service: %w", model.ErrFetchFailed, err)
	}

	listCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	list, err := svc.Users.Messages.List("me").
		Q(s.cfg.Query).
		MaxResults(s.cfg.PageSize).
		Context(listCtx).
		Do(s.callOptions()...)
	cancel()
	if err != nil {
		return nil, classify("list messages", err)
	}

	messages := make([]Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		if int64(len(messages)) >= s.cfg.PageSize {
			break
		}
		msg, err := s.fetchMessage(ctx, svc, ref.Id)
		if err != nil {
			// A rejected token or a cancelled run fails the account so the
			// caller can refresh or stop. Anything else loses only this message.
			if errors.Is(err, model.ErrUnauthorized) || ctx.Err() != nil {
				return nil, err
			}
			s.logger.Warn().Str("message_id", ref.Id).Err(err).Msg("skipping message")
			continue
		}
		messages = append(messages, msg)
	}

	s.logger.Debug().Int("listed", len(list.Messages)).Int("fetched", len(messages)).Msg("fetched candidate messages")
	return messages, nil
}

func (s *GmailSource) fetchMessage(ctx context.Context, svc *gmail.Service, id string) (Message, error) {
	getCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	raw, err := svc.Users.Messages.Get("me", id).
		Format("metadata").
		MetadataHeaders("Subject").
		Context(getCtx).
		Do(s.callOptions()...)
	if err != nil {
		return Message{}, classify("get message "+id, err)
	}
	return fromGmail(raw), nil
}

func fromGmail(raw *gmail.Message) Message {
	msg := Message{ID: raw.Id, Snippet: raw.Snippet}
	if raw.Payload != nil {
		for _, h := range raw.Payload.Headers {
			msg.Headers = append(msg.Headers, Header{Name: h.Name, Value: h.Value})
		}
	}
	return msg
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s: %w", model.ErrUnauthorized, op, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrFetchFailed, op, err)
}
