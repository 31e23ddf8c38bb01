package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/queue"
	"classattend/internal/store"
)

// Sweeper marks enrolled-but-unseen students absent once their session
// window closes, and tails the attendance event stream for the audit log.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisDB)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classattend:attendance")
	}

	recorder := attendance.NewService(attendance.NewRepository(db.Client), cfg.LateAfter)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	go logEvents(messages)

	log.Printf("sweeper started, interval %s", cfg.SweepInterval)
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper stopped")
			return
		case now := <-ticker.C:
			added, err := recorder.SweepAbsences(ctx, now)
			if err != nil {
				log.Printf("absence sweep failed: %v", err)
				continue
			}
			if added > 0 {
				log.Printf("absence sweep: marked %d student(s) absent", added)
			}
		}
	}
}

// logEvents tails recognition events published by the API.
func logEvents(messages <-chan queue.Message) {
	for msg := range messages {
		if msg.Type != "attendance.recorded" {
			continue
		}
		var evt struct {
			StudentID  string `json:"student_id"`
			CourseID   string `json:"course_id"`
			RecordDate string `json:"record_date"`
			RecordTime string `json:"record_time"`
			Status     string `json:"status"`
			Already    bool   `json:"already"`
		}
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad attendance event: %v", err)
			continue
		}
		log.Printf("attendance: student=%s course=%s %s %s status=%s already=%v",
			evt.StudentID, evt.CourseID, evt.RecordDate, evt.RecordTime, evt.Status, evt.Already)
	}
}
