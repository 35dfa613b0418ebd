package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// rw-r--r-- (擁有者讀寫，其他人唯讀)
const FileModeReadOnly fs.FileMode = 0644

// logFile 是 WAL 需要的檔案操作，*os.File 即滿足
type logFile interface {
	io.ReadWriteSeeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// WAL 以 JSON Lines 格式追加寫入的 Write-Ahead Log
// 每筆 Write 都會 fsync 後才回傳
type WAL struct {
	file logFile
	mu   sync.Mutex
	// broken 寫入失敗且無法截回時設定，之後的 Write 一律拒絕
	broken error
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_APPEND 每次寫入時自動跳到文件末尾，O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// Write 寫入一筆資料並刷入硬碟
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken != nil {
		return w.broken
	}

	size, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	_, err = w.file.Write(line)
	if err == nil {
		err = w.file.Sync()
	}
	if err != nil {
		// 寫一半的內容不能留在檔案中間，否則之後重播會讀到壞掉的一行
		if terr := w.file.Truncate(size); terr != nil {
			w.broken = fmt.Errorf("wal: truncate after failed write: %w", terr)
		}
		return err
	}
	return nil
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 從頭依序讀出每一筆紀錄交給 callback
// 最後一行若不完整 (寫到一半當機) 會被截掉，之後的 Write 從乾淨的位置接續
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				// 殘缺的尾巴：沒有換行代表沒寫完，也就沒 fsync 成功回報過
				return w.file.Truncate(offset)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if err := callback(trimmed); err != nil {
				return err
			}
		}
		offset += int64(len(line))
	}
}
