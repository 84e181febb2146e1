package bot

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// sender is the part of the Telegram client the bot uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api      *tgbotapi.BotAPI
	sender   sender
	commands *Commands
	logger   *zap.Logger
}

func New(token string, verbose bool, commands *Commands, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = verbose

	logger.Info("Authorized on Telegram", zap.String("account", api.Self.UserName))

	return &Bot{
		api:      api,
		sender:   api,
		commands: commands,
		logger:   logger,
	}, nil
}

// Start consumes updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Command handler panicked",
				zap.Any("panic", r),
				zap.String("command", message.Command()),
				zap.ByteString("stack", debug.Stack()))
			b.sendErrorMessage(message.Chat.ID, "Terjadi kesalahan saat memproses perintah.")
		}
	}()

	b.dispatch(ctx, message)
}

func (b *Bot) dispatch(ctx context.Context, message *tgbotapi.Message) {
	name := message.Command()
	args := strings.Fields(message.CommandArguments())

	b.logger.Debug("Handling command",
		zap.String("command", name),
		zap.Strings("args", args),
		zap.Int64("chat_id", message.Chat.ID))

	reply := b.commands.Handle(ctx, name, args)
	defer func() {
		if err := reply.Close(); err != nil {
			b.logger.Warn("Failed to remove scratch file", zap.Error(err))
		}
	}()

	if reply.Document != nil {
		b.sendDocument(message.Chat.ID, message.MessageID, reply)
		return
	}
	b.sendMessage(message.Chat.ID, reply.Text)
}

func (b *Bot) sendDocument(chatID int64, replyToID int, reply Reply) {
	f, err := os.Open(reply.Document.Path)
	if err != nil {
		b.logger.Error("Failed to open export file",
			zap.Error(err),
			zap.String("path", reply.Document.Path))
		b.sendErrorMessage(chatID, "Gagal mengirim file: "+err.Error())
		return
	}
	defer f.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{
		Name:   reply.Document.Name,
		Reader: f,
	})
	doc.Caption = reply.Text
	doc.ReplyToMessageID = replyToID

	if _, err := b.sender.Send(doc); err != nil {
		b.logger.Error("Failed to send document",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.String("name", reply.Document.Name))
		b.sendErrorMessage(chatID, "Gagal mengirim file: "+err.Error())
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
