/*
Copyright © 2024 the hydropot authors.
This file is part of hydropot.

hydropot is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hydropot is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hydropot.  If not, see <http://www.gnu.org/licenses/>.
*/

package hydropot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// ZipStore packages the Zarr directory store dir as a Zarr ZipStore at
// zipPath. Entries are stored without compression and named relative to
// the store root, as zarr.storage.ZipStore expects.
func ZipStore(dir, zipPath string) error {
	keys, err := dirStore(dir).Keys()
	if err != nil {
		return fmt.Errorf("hydropot: listing zarr store %s: %w", dir, err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("hydropot: zarr store %s is empty", dir)
	}
	sort.Strings(keys)

	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("hydropot: creating zip store: %w", err)
	}
	w := zip.NewWriter(f)
	for _, k := range keys {
		if err := addZipEntry(w, dir, k); err != nil {
			w.Close()
			f.Close()
			return fmt.Errorf("hydropot: adding %s to zip store: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("hydropot: closing zip store: %w", err)
	}
	return f.Close()
}

func addZipEntry(w *zip.Writer, dir, key string) error {
	src, err := os.Open(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil {
		return err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err
	}
	hdr := &zip.FileHeader{
		Name:     key,
		Method:   zip.Store,
		Modified: fi.ModTime().UTC().Truncate(time.Second),
	}
	hdr.SetMode(0644)
	dst, err := w.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

// ZipStoreOutput returns a function that packages the Zarr store at dir
// into a zip file.
func ZipStoreOutput(dir, zipPath string) DomainManipulator {
	return func(d *Domain) error {
		if err := ZipStore(dir, zipPath); err != nil {
			return err
		}
		d.logger().WithFields(logrus.Fields{
			"store": dir,
			"path":  zipPath,
		}).Info("packaged Zarr store")
		return nil
	}
}
