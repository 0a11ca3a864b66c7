package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
//
// waiting_queue.waiting_key is only non-NULL while an entry is WAITING,
// so the unique index allows one WAITING entry per user and seat detail
// while keeping any number of finished ones.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS seats (
		id               BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		concert_id       BIGINT UNSIGNED NOT NULL,
		max_capacity     INT NOT NULL,
		current_reserved INT NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_seats_concert (concert_id),
		CONSTRAINT chk_seats_reserved CHECK (current_reserved >= 0 AND current_reserved <= max_capacity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS seat_details (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		seat_id    BIGINT UNSIGNED NOT NULL,
		status     ENUM('AVAILABLE','PENDING','RESERVED','CANCELLED') NOT NULL DEFAULT 'AVAILABLE',
		version    BIGINT NOT NULL DEFAULT 0,
		held_by    BIGINT UNSIGNED NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_seat_details_seat_status (seat_id, status),
		CONSTRAINT fk_seat_details_seat FOREIGN KEY (seat_id) REFERENCES seats (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS waiting_queue (
		id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id        BIGINT UNSIGNED NOT NULL,
		seat_detail_id BIGINT UNSIGNED NOT NULL,
		status         ENUM('WAITING','PROCESSING','EXPIRED','DONE') NOT NULL DEFAULT 'WAITING',
		enqueued_at    DATETIME(6) NOT NULL,
		waiting_key    VARCHAR(64) GENERATED ALWAYS AS (
			IF(status = 'WAITING', CONCAT(user_id, ':', seat_detail_id), NULL)
		) STORED,
		UNIQUE KEY uq_waiting_queue_waiting (waiting_key),
		KEY idx_waiting_queue_order (seat_detail_id, status, enqueued_at, id),
		KEY idx_waiting_queue_user (user_id, seat_detail_id, status),
		CONSTRAINT fk_waiting_queue_detail FOREIGN KEY (seat_detail_id) REFERENCES seat_details (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables used by the seat and waiting queue stores.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
