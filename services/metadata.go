package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// metadataCASAttempts, compare-and-set çakışmalarında en fazla deneme sayısı.
const metadataCASAttempts = 5

// Grant propagation retry varsayılanları.
const (
	DefaultGrantRetryInterval = 250 * time.Millisecond
	DefaultGrantTimeout       = 5 * time.Second
)

// errMetadataConflict, CAS denemeleri tükendiğinde döner.
var errMetadataConflict = errors.New("session metadata changed concurrently")

// mergeMetadata, paylaşılan metadata blob'una read-merge-write uygular.
//
// mutate güncel blob'u alır ve yazılacak halini döner; bilinmeyen alanlar
// SessionMetadata içinde taşındığı için başka yazıcıların alanları silinmez.
// Handle MetadataCAS sunuyorsa sürüm token'ı ile yazılır ve çakışmada
// tekrar okunur. Sunmuyorsa okuma ile yazma arasındaki pencere en kısa
// tutulur; nadir kayıp güncellemeler kabul edilir (eventually consistent).
func mergeMetadata(
	ctx context.Context,
	call CallHandle,
	mutate func(models.SessionMetadata) models.SessionMetadata,
) (models.SessionMetadata, error) {
	if cas, ok := call.(MetadataCAS); ok {
		for range metadataCASAttempts {
			current, version, err := cas.MetadataVersion(ctx)
			if err != nil {
				return models.SessionMetadata{}, fmt.Errorf("failed to read session metadata: %w", err)
			}

			next := mutate(current)
			applied, err := cas.CompareAndSetMetadata(ctx, version, next)
			if err != nil {
				return models.SessionMetadata{}, fmt.Errorf("failed to write session metadata: %w", err)
			}
			if applied {
				return next, nil
			}
		}
		return models.SessionMetadata{}, errMetadataConflict
	}

	current, err := call.Metadata(ctx)
	if err != nil {
		return models.SessionMetadata{}, fmt.Errorf("failed to read session metadata: %w", err)
	}

	next := mutate(current)
	if err := call.SetMetadata(ctx, next); err != nil {
		return models.SessionMetadata{}, fmt.Errorf("failed to write session metadata: %w", err)
	}
	return next, nil
}

// retryParticipant, op'u hedef katılımcı provider'da görünene kadar tekrarlar.
//
// Yalnızca pkg.ErrParticipantNotFound tekrar denenir (grant propagation gecikmesi);
// diğer hatalar hemen döner. timeout dolduğunda pkg.ErrPermissionTimeout döner.
func retryParticipant(
	ctx context.Context,
	interval, timeout time.Duration,
	op func(ctx context.Context) error,
) error {
	if interval <= 0 {
		interval = DefaultGrantRetryInterval
	}
	if timeout <= 0 {
		timeout = DefaultGrantTimeout
	}

	retryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := op(retryCtx)
		if err == nil {
			return nil
		}

		// Üst context iptal edildiyse timeout değil, iptal.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if retryCtx.Err() != nil {
			return fmt.Errorf("%w: %v", pkg.ErrPermissionTimeout, err)
		}
		if !errors.Is(err, pkg.ErrParticipantNotFound) {
			return err
		}

		select {
		case <-retryCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %v", pkg.ErrPermissionTimeout, err)
		case <-ticker.C:
		}
	}
}

// isParticipantGone, hedef katılımcının provider'da bulunmadığını belirtir.
func isParticipantGone(err error) bool {
	return errors.Is(err, pkg.ErrParticipantNotFound)
}
