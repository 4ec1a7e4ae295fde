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

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
)

// Download copies the blob at rawurl to the local file dst.
func Download(ctx context.Context, rawurl, dst string) error {
	bucketURL, key, err := SplitURL(rawurl)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return err
	}
	defer bucket.Close()
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("cloud: reading blob key %s: %v", key, err)
	}
	defer r.Close()
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("cloud: creating %s: %v", dst, err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("cloud: reading blob key %s: %v", key, err)
	}
	return f.Close()
}

// Upload copies the local file or directory src to the blob location
// rawurl. Directories, such as Zarr stores, are copied recursively after
// any existing blobs under rawurl are deleted.
func Upload(ctx context.Context, src, rawurl string) error {
	bucketURL, key, err := SplitURL(rawurl)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return err
	}
	defer bucket.Close()

	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("cloud: uploading %s: %v", src, err)
	}
	if !fi.IsDir() {
		return writeFile(ctx, bucket, key, src)
	}
	if err := deletePrefix(ctx, bucket, strings.TrimSuffix(key, "/")+"/"); err != nil {
		return err
	}
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		return writeFile(ctx, bucket, path.Join(key, filepath.ToSlash(rel)), p)
	})
}

// writeFile writes the given file to the given bucket.
func writeFile(ctx context.Context, bucket *blob.Bucket, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("cloud: opening %s: %v", file, err)
	}
	defer f.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %v", key, err)
	}
	if _, err = io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("cloud: copying blob %s: %v", key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %v", key, err)
	}
	return nil
}

// deletePrefix deletes all blobs whose keys start with prefix.
func deletePrefix(ctx context.Context, bucket *blob.Bucket, prefix string) error {
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("cloud: listing blobs to delete under %s: %v", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if err = bucket.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("cloud: deleting blob %s: %v", obj.Key, err)
		}
	}
	return nil
}
