package engine

import (
	"os"
	"strings"
)

const UNREGISTERED = 0x0001
const IDLE = 0x0003
const BUSY = 0x0004

// Detection thresholds are fixed for the fire model and never taken from a request.
const (
	ConfThreshold float32 = 0.35
	IouThreshold  float32 = 0.1
)

// InputSize is the square network input of the exported model.
const InputSize = 640

// DefaultNames are the classes of the fire/smoke model when no labels file is given.
var DefaultNames = []string{"fire", "smoke"}

type NamesConf struct {
	IsFile bool
	Data   []string
	Path   string
}

func (n NamesConf) Resolve() ([]string, error) {
	if n.IsFile {
		return ReadLinesReadFile(n.Path)
	}
	if len(n.Data) == 0 {
		return append([]string(nil), DefaultNames...), nil
	}
	return append([]string(nil), n.Data...), nil
}

func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// 支持 Windows CRLF，去掉尾部的 '\r'
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}
