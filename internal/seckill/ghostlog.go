package seckill

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// GhostLog — локальный аварийный журнал выигрышей, которые не удалось
// опубликовать в брокер: по одной JSON-записи на строку, только добавление.
// Оператор доигрывает его командой ghost-replay, когда брокер снова доступен.
type GhostLog struct {
	mu   sync.Mutex
	path string
}

// NewGhostLog создаёт журнал по указанному пути, создавая каталог при
// необходимости.
func NewGhostLog(path string) (*GhostLog, error) {
	if path == "" {
		return nil, fmt.Errorf("ghost log path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ghost log dir: %w", err)
		}
	}
	return &GhostLog{path: path}, nil
}

// Path возвращает путь журнала.
func (g *GhostLog) Path() string {
	return g.path
}

// Append дописывает одну запись. Файл открывается на каждую запись: журнал
// используется только в аварийном режиме, и надёжность здесь важнее
// скорости — после закрытия дескриптора запись точно на диске.
func (g *GhostLog) Append(won Won) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ghost log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(won)
	if err != nil {
		return fmt.Errorf("marshal ghost record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ghost record: %w", err)
	}
	return f.Sync()
}

// ReadAll возвращает все записи журнала. Повреждённые строки пропускаются и
// пересчитываются в skipped — журнал пишется в аварийной обстановке, одна
// оборванная строка не должна блокировать доигрывание остальных.
func ReadAll(r io.Reader) (records []Won, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var won Won
		if unmarshalErr := json.Unmarshal(line, &won); unmarshalErr != nil {
			skipped++
			continue
		}
		records = append(records, won)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("scan ghost log: %w", err)
	}
	return records, skipped, nil
}
