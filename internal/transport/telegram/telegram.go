// Package telegram delivers alerts through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/transport"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

type Config struct {
	Token      string
	RatePerSec int
	RetryMax   int
	// Offline skips the getMe handshake; used by tests.
	Offline bool
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" && !cfg.Offline {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: cfg.Offline})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	return &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram")),
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// SendText delivers one message with rate limiting and a bounded retry.
func (a *Adapter) SendText(ctx context.Context, to transport.Target, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return transport.MessageRef{}, err
	}

	sendOpt := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		sendOpt.ParseMode = opt.ParseMode
		sendOpt.DisableWebPagePreview = opt.DisablePreview
	}
	chat := &tele.Chat{ID: to.ChatID}

	var last error
	for i := 0; i <= a.cfg.RetryMax; i++ {
		msg, err := a.bot.Send(chat, text, sendOpt)
		if err == nil {
			return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
		}
		last = err
		if i == a.cfg.RetryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		a.log.Debug("send retry scheduled",
			logx.Int64("chat_id", to.ChatID), logx.Int("attempt", i+2),
			logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return transport.MessageRef{}, ctx.Err()
		case <-tmr.C:
		}
	}
	a.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Int("thread_id", to.ThreadID), logx.Err(last))
	return transport.MessageRef{}, last
}
