package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Handler Handler
}

func NewTelegramGateway(token string, handler Handler) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:     bot,
		Handler: handler,
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		from := ""
		if update.Message.From != nil {
			from = update.Message.From.UserName
		}
		log.Printf("[%s] %s", from, update.Message.Text)

		ctx := context.Background()
		chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
		reply := ReplyText(tg.Handler.Handle(ctx, chatID, update.Message.Text))
		if reply == "" {
			continue
		}

		msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
		if _, err := tg.Bot.Send(msg); err != nil {
			log.Printf("Error replying to %s: %v", chatID, err)
		}
	}
	return nil
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
