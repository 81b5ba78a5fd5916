// ghost-replay доигрывает аварийный журнал flash-sale выигрышей: записи,
// которые движок seckill не смог опубликовать в брокер, публикуются заново
// как seckill.order.won. По умолчанию — dry-run; с -execute журнал после
// успешного доигрывания переименовывается в <path>.replayed-<UTC-время>.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/seckill"
)

func main() {
	var (
		filePath  string
		rabbitURL string
		execute   bool
	)

	flag.StringVar(&filePath, "file", "", "path to the ghost-order JSON-lines log")
	flag.StringVar(&rabbitURL, "rabbit-url", "", "RabbitMQ URL (fallback: RABBITMQ_URL)")
	flag.BoolVar(&execute, "execute", false, "actually publish; without this flag only report what would be replayed")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "ghost-replay")

	if strings.TrimSpace(filePath) == "" {
		fail("-file is required")
	}
	if strings.TrimSpace(rabbitURL) == "" {
		rabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	}

	f, err := os.Open(filePath)
	if err != nil {
		fail("open ghost log: %v", err)
	}
	records, skipped, err := seckill.ReadAll(f)
	_ = f.Close()
	if err != nil {
		fail("read ghost log: %v", err)
	}

	logger.WithFields(log.Fields{"records": len(records), "skipped": skipped}).Info("ghost log loaded")
	if len(records) == 0 {
		fmt.Println("nothing to replay")
		return
	}

	if !execute {
		for _, won := range records {
			fmt.Printf("would replay reservation=%s user=%s product=%s occurred=%s\n",
				won.ReservationID, won.UserID, won.ProductID, won.OccurredAt)
		}
		fmt.Printf("dry-run: %d record(s); pass -execute to publish\n", len(records))
		return
	}

	if rabbitURL == "" {
		fail("RABBITMQ_URL (or -rabbit-url) is required with -execute")
	}

	conn, err := broker.Connect(rabbitURL, logger.WithField("component", "broker"))
	if err != nil {
		fail("connect broker: %v", err)
	}
	defer conn.Close()

	publisher := broker.NewPublisher(conn, nil)

	replayed := 0
	for _, won := range records {
		if err := seckill.PublishWon(publisher, won); err != nil {
			// Останавливаемся на первой ошибке: журнал не трогаем, повторный
			// запуск безопасен — дедупликацию обеспечивает reservation id.
			fail("publish reservation %s: %v (replayed %d of %d)", won.ReservationID, err, replayed, len(records))
		}
		replayed++
	}

	done := filePath + ".replayed-" + time.Now().UTC().Format("20060102T150405Z")
	if err := os.Rename(filePath, done); err != nil {
		logger.WithError(err).Warn("replayed log rename failed, remove it manually to avoid double replay")
	}

	fmt.Printf("replayed %d record(s), skipped %d malformed line(s)\n", replayed, skipped)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
