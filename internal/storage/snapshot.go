package storage

import (
	"encoding/json"
	"os"

	"github.com/klauspost/compress/zstd"
)

// snapshotFile is the point-in-time image of every in-memory index,
// written zstd-compressed so recovery doesn't have to replay the whole
// WAL — the teacher's snapshot.json idea, generalized to the full
// item/group/member/device schema and compressed in the ecosystem's
// usual way rather than left as plain JSON.
type snapshotFile struct {
	Items   map[string]Item     `json:"items"`
	Groups  map[string]Group    `json:"groups"`
	Members map[string]Member   `json:"members"` // keyed by groupID+"\x00"+entityID
	Devices map[string]Device   `json:"devices"`
}

func saveSnapshot(path string, snap snapshotFile) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Atomic rename: a crash between Create and Rename leaves the
	// previous snapshot intact.
	return os.Rename(tmp, path)
}

func loadSnapshot(path string) (snapshotFile, bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return snapshotFile{}, false, nil
	}
	if err != nil {
		return snapshotFile{}, false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snapshotFile{}, false, err
	}
	defer dec.Close()

	var snap snapshotFile
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return snapshotFile{}, false, err
	}
	return snap, true, nil
}
