package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/model"
)

type store struct {
	LastStarted map[string]int64 `json:"last_started"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.json"), nil
}

// Touch records a successful start for a slot or service label.
func Touch(name string) error {
	st, err := load()
	if err != nil {
		return err
	}
	if st.LastStarted == nil {
		st.LastStarted = map[string]int64{}
	}
	st.LastStarted[name] = time.Now().Unix()
	return save(st)
}

// LastStarted returns last successful start timestamps by slot/label.
func LastStarted() (map[string]int64, error) {
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastStarted, nil
}

// SortServicesRecent returns a new slice sorted by recent start (desc),
// then category rank, then name.
func SortServicesRecent(svcs []model.ManagedService, lastStarted map[string]int64) []model.ManagedService {
	out := append([]model.ManagedService(nil), svcs...)
	sort.Slice(out, func(i, j int) bool {
		ti := lastStarted[out[i].Label]
		tj := lastStarted[out[j].Label]
		if ti != tj {
			return ti > tj
		}
		ri, rj := out[i].Category.SortRank(), out[j].Category.SortRank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func load() (store, error) {
	path, err := filePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastStarted: map[string]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastStarted: map[string]int64{}}, nil
	}
	if st.LastStarted == nil {
		st.LastStarted = map[string]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
