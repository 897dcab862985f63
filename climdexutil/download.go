/*
Copyright © 2025 the climdex authors.
This file is part of climdex.

climdex is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

climdex is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with climdex.  If not, see <http://www.gnu.org/licenses/>.
*/

package climdexutil

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cenkalti/backoff"
	"github.com/google/go-cloud/blob"
	"github.com/google/go-cloud/blob/fileblob"
	"github.com/google/go-cloud/blob/gcsblob"
	"github.com/google/go-cloud/blob/s3blob"
	"github.com/google/go-cloud/gcp"
)

// downloadTimeout bounds the retries for one file. The budget is per
// file, never shared across the run.
const downloadTimeout = 5 * time.Minute

// maybeDownload checks whether the given path is an existing local
// file. If it is not, and the path is an http(s) URL or a blob address
// (file://, gs://, s3://), the file is downloaded to a temporary
// directory and the local path is returned. For shapefiles, all
// associated sidecar files are downloaded and the path to the ".shp"
// file is returned. c, if not nil, receives error and logging
// messages.
func maybeDownload(ctx context.Context, path string, c chan string) string {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return downloadHTTP(path, c)
	}
	if IsBlob(path) {
		return downloadBlob(ctx, path, c)
	}
	return path
}

// downloadHTTP downloads a file from the specified URL, retrying with
// exponential backoff within the per-file budget, and returns the path
// to the downloaded file.
func downloadHTTP(path string, c chan string) string {
	dir, err := ioutil.TempDir("", "climdex")
	if err != nil {
		panic(fmt.Errorf("climdexutil: failed creating temporary download directory: %v", err))
	}

	fnames := expandShp(path)
	for _, fname := range fnames {
		w, err := os.Create(filepath.Join(dir, filepath.Base(fname)))
		if err != nil {
			panic(fmt.Errorf("climdexutil: failed creating file for download: %v", err))
		}
		get := func() error {
			// A failed attempt may have written part of the body;
			// start every attempt from an empty file.
			if err := w.Truncate(0); err != nil {
				return err
			}
			if _, err := w.Seek(0, io.SeekStart); err != nil {
				return err
			}
			resp, err := http.Get(fname)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("downloading %s: %s", fname, resp.Status)
			}
			_, err = io.Copy(w, resp.Body)
			return err
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = downloadTimeout
		if err := backoff.Retry(get, b); err != nil {
			if c != nil {
				c <- err.Error()
			}
			w.Close()
			return path
		}
		w.Close()
	}
	return filepath.Join(dir, filepath.Base(fnames[0]))
}

// IsBlob returns whether the given filename represents a blob
// (i.e., if it starts with 'gs://', 's3://', or 'file://').
func IsBlob(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "file://")
}

// OpenBucket returns the blob storage bucket specified by bucketName,
// where bucketName must be in the format 'provider://name'. The
// accepted providers are "file" for the local filesystem, "gs" for
// Google Cloud Storage, and "s3" for AWS S3.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	url, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("climdexutil.OpenBucket: %v", err)
	}
	switch url.Scheme {
	case "file":
		return fileblob.NewBucket(url.Hostname())
	case "gs":
		return gsBucket(ctx, url.Hostname())
	case "s3":
		return s3Bucket(ctx, url.Hostname())
	default:
		return nil, fmt.Errorf("climdexutil.OpenBucket: invalid provider %s", url.Scheme)
	}
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, name, c)
}

// s3Bucket opens an s3 storage bucket. It assumes the AWS_REGION,
// AWS_ACCESS_KEY_ID, and AWS_SECRET_ACCESS_KEY environment variables
// are set.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s := session.Must(session.NewSession(c))
	return s3blob.OpenBucket(ctx, s, name)
}

// downloadBlob downloads the specified file from blob storage.
func downloadBlob(ctx context.Context, path string, c chan string) string {
	url, err := url.Parse(path)
	if err != nil {
		if c != nil {
			c <- err.Error()
		}
		return path
	}
	bucket, err := OpenBucket(ctx, url.Scheme+"://"+url.Host)
	if err != nil {
		if c != nil {
			c <- err.Error()
		}
		return path
	}
	dir, err := ioutil.TempDir("", "climdex")
	if err != nil {
		panic(fmt.Errorf("climdexutil: failed creating temporary download directory: %v", err))
	}
	fnames := expandShp(strings.TrimPrefix(url.Path, "/"))
	for _, fname := range fnames {
		w, err := os.Create(filepath.Join(dir, filepath.Base(fname)))
		if err != nil {
			panic(fmt.Errorf("climdexutil: failed creating file for download: %v", err))
		}
		r, err := bucket.NewReader(ctx, fname)
		if err != nil {
			if c != nil {
				c <- err.Error()
			}
			w.Close()
			return path
		}
		_, err = io.Copy(w, r)
		r.Close()
		w.Close()
		if err != nil {
			if c != nil {
				c <- err.Error()
			}
			return path
		}
	}
	return filepath.Join(dir, filepath.Base(fnames[0]))
}

// expandShp returns the given file plus the associated [.dbf, .shx,
// .prj] sidecars if the given file has the .shp extension, and returns
// the given file alone otherwise.
func expandShp(filename string) []string {
	o := []string{filename}
	if filepath.Ext(filename) != ".shp" {
		return o
	}
	for _, newExt := range []string{".dbf", ".shx", ".prj"} {
		o = append(o, strings.TrimSuffix(filename, ".shp")+newExt)
	}
	return o
}
