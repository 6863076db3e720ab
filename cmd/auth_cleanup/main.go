package main

import (
	"log"
	"os"
	"time"

	"messenger/internal/database"
)

// Prunes the security_records table: expired rows of any category and
// refresh records that have been inactive long enough that nothing can
// still reference them. Intended to run from cron.
func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := database.Connect(databaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	now := time.Now().UTC()

	res1 := db.Exec(`DELETE FROM security_records WHERE expires_at < ?`, now)
	if res1.Error != nil {
		log.Fatalf("cleanup expired records failed: %v", res1.Error)
	}

	res2 := db.Exec(
		`DELETE FROM security_records WHERE category = ? AND key LIKE ? AND active = ? AND updated_at < ?`,
		"security", "refresh_%", false, now.AddDate(0, 0, -30),
	)
	if res2.Error != nil {
		log.Fatalf("cleanup revoked refresh records failed: %v", res2.Error)
	}

	log.Printf("security cleanup completed: expired=%d revoked=%d", res1.RowsAffected, res2.RowsAffected)
}
