package ws

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Translator converts text between languages. An empty source means auto-detect.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

type translationRequest struct {
	Text           *string `json:"text"`
	SourceLanguage string  `json:"source_language"`
	TargetLanguage *string `json:"target_language"`
}

// NewTranslationSession returns the session loop for /ws/translate.
// Translator failures are reported to the client and the loop keeps going.
func NewTranslationSession(translator Translator) SessionFunc {
	return func(ctx context.Context, c *Conn) error {
		for {
			req, err := readTranslationRequest(ctx, c)
			if err != nil {
				return err
			}
			if err = translateOnce(ctx, c, translator, req); err != nil {
				return err
			}
		}
	}
}

func readTranslationRequest(ctx context.Context, c *Conn) (*translationRequest, error) {
	f, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	if f.messageType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: expected text frame, got binary", ErrProtocol)
	}

	var req translationRequest
	if err = decodeObject(f.data, &req); err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrProtocol, err)
	}
	if req.Text == nil {
		return nil, fmt.Errorf("%w: missing text", ErrProtocol)
	}
	if req.TargetLanguage == nil || normalizeLanguage(*req.TargetLanguage) == "" {
		return nil, fmt.Errorf("%w: missing target_language", ErrProtocol)
	}
	return &req, nil
}

func translateOnce(ctx context.Context, c *Conn, translator Translator, req *translationRequest) error {
	source := normalizeLanguage(req.SourceLanguage)
	target := normalizeLanguage(*req.TargetLanguage)

	translated, err := translator.Translate(ctx, *req.Text, source, target)
	if err != nil {
		if c.gone() {
			return c.readFailure()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("translation failed", "source", source, "target", target, "error", err)
		return c.sendError(fmt.Sprintf("translation failed: %v", err))
	}
	return c.sendMessage(KindTranslation, translated)
}
