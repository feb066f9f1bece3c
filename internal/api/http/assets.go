package http

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-nmt/internal/storage"
)

const maxAssetBytes = 10 << 20

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true}

// UploadAssetHandler stores a question image under a fresh key.
// POST /api/assets  (multipart file=)
func UploadAssetHandler(bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAssetBytes)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "file required")
			return
		}
		defer f.Close()

		ext := strings.ToLower(path.Ext(hdr.Filename))
		if !imageExts[ext] {
			badRequest(w, "unsupported image type "+ext)
			return
		}
		key, err := bs.Put(r.Context(), "questions/"+uuid.NewString()+ext, f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]string{"key": key, "url": "/assets/" + key})
	}
}

// MountAssets serves stored blobs at whatever follows the mount point.
// Keys are random, so reads are not authenticated.
func MountAssets(r chi.Router, bs storage.BlobStore) {
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		rc, err := bs.Get(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rc.Close()
		ct := mime.TypeByExtension(path.Ext(key))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = io.Copy(w, rc)
	})
}

// DELETE /api/assets/*
func DeleteAssetHandler(bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := bs.Delete(r.Context(), strings.TrimPrefix(chi.URLParam(r, "*"), "/")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
