package routes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/feel-playground/feel-cache/internal/notify"
)

// heartbeatInterval 定期写注释帧，既保活连接也能及时发现断开的客户端。
const heartbeatInterval = 25 * time.Second

// RegisterEventRoutes 暴露 /-/events SSE 接口。页面以 ?client=<id> 订阅；
// 未提供 id 时生成一个，并通过首条 client.registered 事件告知客户端。
func RegisterEventRoutes(app *fiber.App, hub *notify.Hub, logger *logrus.Logger) {
	if app == nil || hub == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/events", func(c fiber.Ctx) error {
		clientID := strings.TrimSpace(c.Query("client"))
		if clientID == "" {
			clientID = uuid.NewString()
		}
		sub, err := hub.Subscribe(clientID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_id_invalid"})
		}

		fields := logrus.Fields{"action": "notify", "client_id": clientID}
		logger.WithFields(fields).Info("client_connected")

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("X-Accel-Buffering", "no")
		return c.SendStreamWriter(func(w *bufio.Writer) {
			defer func() {
				sub.Close()
				logger.WithFields(fields).Info("client_disconnected")
			}()
			streamEvents(w, sub, heartbeatInterval)
		})
	})
}

// streamEvents 持续写出订阅消息，直到订阅关闭或写入失败。
func streamEvents(w *bufio.Writer, sub *notify.Subscription, heartbeat time.Duration) {
	registered := notify.Message{Kind: notify.KindClientRegistered, ClientID: sub.ID()}
	if err := writeEvent(w, registered); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := writeEvent(w, msg); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w *bufio.Writer, msg notify.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, data); err != nil {
		return err
	}
	return w.Flush()
}
