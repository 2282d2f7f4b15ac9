// Package deviceid, giriş yapmamış kullanıcılar için cihaz başına kalıcı
// anonim bir kimlik (pseudo-id) üretir ve saklar.
//
// İlk çağrıda uuid üretilip dosyaya yazılır, sonraki çağrılar aynı değeri okur.
package deviceid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Prefix, anonim id'leri kayıtlı kullanıcı id'lerinden ayırır.
const Prefix = "anon-"

// Load, path'teki id'yi okur; dosya yoksa veya içeriği geçersizse yenisini yazar.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); Valid(id) {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := New()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create device id directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write device id: %w", err)
	}
	return id, nil
}

// New, kaydetmeden yeni bir anonim id üretir.
func New() string {
	return Prefix + uuid.NewString()
}

// Valid, id'nin bu paketin ürettiği formatta olup olmadığını kontrol eder.
func Valid(id string) bool {
	rest, ok := strings.CutPrefix(id, Prefix)
	if !ok {
		return false
	}
	return uuid.Validate(rest) == nil
}

// IsAnonymous, Valid ile aynıdır; çağıran tarafta okunurluk için.
func IsAnonymous(userID string) bool { return Valid(userID) }
