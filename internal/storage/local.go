// Package storage はアップロード・処理結果ファイルのローカル保存と有効期限管理を提供します。
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager はアップロード先と処理結果の2つのディレクトリを管理します。
// 実行中ジョブが参照しているファイルはリースとして記録され、掃除処理の対象から外れます。
type Manager struct {
	uploadDir    string
	processedDir string

	mu     sync.Mutex
	leases map[string]int // 保存名 -> アクティブなリース数
}

// NewManager はディレクトリを作成して Manager を初期化します。
func NewManager(uploadDir, processedDir string) (*Manager, error) {
	for _, dir := range []string{uploadDir, processedDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Manager{
		uploadDir:    uploadDir,
		processedDir: processedDir,
		leases:       make(map[string]int),
	}, nil
}

// UploadDir はアップロードディレクトリのパスを返します。
func (m *Manager) UploadDir() string { return m.uploadDir }

// ProcessedDir は処理結果ディレクトリのパスを返します。
func (m *Manager) ProcessedDir() string { return m.processedDir }

// SaveUpload はアップロードされた内容を一意な保存名で書き込み、保存名とサイズを返します。
// 保存名は <元ファイル名のサニタイズ済みベース>_<タイムスタンプ>_<uuid先頭8文字>.pdf です。
func (m *Manager) SaveUpload(src io.Reader, originalName string) (string, int64, error) {
	base := sanitizeBase(originalName)
	storedName := fmt.Sprintf("%s_%s_%s.pdf",
		base,
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8],
	)

	path := filepath.Join(m.uploadDir, storedName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	size, err := io.Copy(file, src)
	closeErr := file.Close()
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to write upload file: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to close upload file: %w", closeErr)
	}
	return storedName, size, nil
}

// ResolveUpload はアップロード済みファイルの保存名をフルパスに解決します。
// ディレクトリ外を指す名前は拒否し、実在しない場合は fs.ErrNotExist を返します。
func (m *Manager) ResolveUpload(name string) (string, error) {
	return m.resolve(m.uploadDir, name)
}

// ResolveProcessed は処理結果ファイルの保存名をフルパスに解決します。
func (m *Manager) ResolveProcessed(name string) (string, error) {
	return m.resolve(m.processedDir, name)
}

func (m *Manager) resolve(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid filename: %q", name)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// Acquire は指定ファイルのリースを獲得します。リース中のファイルは掃除対象になりません。
func (m *Manager) Acquire(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.leases[name]++
	}
}

// Release は Acquire で獲得したリースを解放します。
func (m *Manager) Release(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		if m.leases[name] <= 1 {
			delete(m.leases, name)
			continue
		}
		m.leases[name]--
	}
}

func (m *Manager) leased(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leases[name] > 0
}

// CleanupOlderThan は両ディレクトリから指定時間より古いファイルを削除し、削除数を返します。
// リース中のファイルとサブディレクトリ、.gitkeep は対象外です。
func (m *Manager) CleanupOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	cleaned := 0

	for _, dir := range []string{m.uploadDir, m.processedDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return cleaned, fmt.Errorf("failed to read directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || entry.Name() == ".gitkeep" {
				continue
			}
			if m.leased(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}

// sanitizeBase は元ファイル名から保存名のベース部分を生成します。
// 英数字・ハイフン・アンダースコア以外はアンダースコアに置換します。
func sanitizeBase(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "_") == "" {
		out = "document"
	}
	const maxBaseLen = 64
	if len(out) > maxBaseLen {
		out = out[:maxBaseLen]
	}
	return out
}
