package gateway

import (
	"context"
	"log"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// discordLimit is Discord's maximum message length.
const discordLimit = 2000

// DiscordGateway serves plan commands in Discord channels. Chat ids are
// channel ids.
type DiscordGateway struct {
	Session *discordgo.Session
	Handler Handler
	// Channel, when set, restricts the bot to one channel.
	Channel string

	stop chan struct{}
}

func NewDiscordGateway(token, channel string, handler Handler) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

	dg := &DiscordGateway{
		Session: s,
		Handler: handler,
		Channel: channel,
		stop:    make(chan struct{}),
	}
	s.AddHandler(dg.onMessage)
	return dg, nil
}

// Start opens the websocket and blocks until Stop.
func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return err
	}
	if dg.Session.State != nil && dg.Session.State.User != nil {
		log.Printf("Connected to Discord as %s", dg.Session.State.User.Username)
	}
	<-dg.stop
	return nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if dg.Channel != "" && m.ChannelID != dg.Channel {
		return
	}
	log.Printf("[%s] %s", m.Author.Username, m.Content)

	reply := ReplyText(dg.Handler.Handle(context.Background(), m.ChannelID, m.Content))
	if reply == "" {
		return
	}
	if err := dg.Send(m.ChannelID, reply); err != nil {
		log.Printf("Error replying in %s: %v", m.ChannelID, err)
	}
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	for _, chunk := range splitMessage(text, discordLimit) {
		if _, err := dg.Session.ChannelMessageSend(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) Stop() error {
	select {
	case <-dg.stop:
	default:
		close(dg.stop)
	}
	return dg.Session.Close()
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// line boundaries and never splitting a UTF-8 sequence.
func splitMessage(text string, limit int) []string {
	var out []string
	for len(text) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		if cut == limit {
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
