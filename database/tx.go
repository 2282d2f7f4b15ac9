package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TxQuerier, *sql.DB ve *sql.Tx'in ortak sorgu yüzeyi.
// Sorgu helper'ları bunu alır, böylece aynı SQL hem transaction içinde
// hem dışında kullanılır.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx, fn'i tek transaction içinde çalıştırır.
// fn hata dönerse ya da panic olursa rollback edilir, aksi halde commit.
//
// Kullanım (session config host kontrolü + upsert):
//
//	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
//	    if err := checkHost(ctx, tx, cfg); err != nil {
//	        return err
//	    }
//	    _, err := upsert(ctx, tx, cfg)
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := tx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
		if rbErr != nil && err != nil {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	// Commit başarısız olsa da transaction kapanmıştır
	committed = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
