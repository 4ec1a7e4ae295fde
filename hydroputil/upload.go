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

package hydroputil

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hydropot"
	"github.com/spatialmodel/hydropot/cloud"
)

type uploader struct {
	// prefix is the blob storage location the files are uploaded
	// under. If empty, nothing is uploaded.
	prefix string

	// files are local files or directories to be uploaded.
	files []string

	log logrus.FieldLogger
}

// destination returns the blob URL that the local file will be
// uploaded to.
func (u *uploader) destination(file string) string {
	return strings.TrimSuffix(u.prefix, "/") + "/" + filepath.Base(file)
}

func (u *uploader) add(files ...string) {
	for _, f := range files {
		if f != "" {
			u.files = append(u.files, f)
		}
	}
}

// uploadOutput copies the output files to blob storage.
func (u *uploader) uploadOutput(ctx context.Context) hydropot.DomainManipulator {
	return func(*hydropot.Domain) error {
		if u.prefix == "" {
			return nil
		}
		for _, f := range u.files {
			dst := u.destination(f)
			if err := cloud.Upload(ctx, f, dst); err != nil {
				return fmt.Errorf("hydropot: uploading '%s' to '%s': %v", f, dst, err)
			}
			u.log.WithFields(logrus.Fields{
				"path": f,
				"url":  dst,
			}).Info("uploaded output")
		}
		return nil
	}
}
