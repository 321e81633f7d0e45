package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"evalhub/config"
	"evalhub/internal/filecrypt"
	"evalhub/internal/handler"
	"evalhub/internal/repository"
	"evalhub/internal/services"
	"evalhub/internal/storage"
	"evalhub/internal/transport/httpdto"
	"evalhub/internal/validation"
	"evalhub/pkg/events"
	"evalhub/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testJWTSecret = "test-secret-test-secret-test-key"

type testServer struct {
	srv    *Server
	store  *storage.MemoryBackend
	broker *events.MemoryBroker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		AppPort:        "8080",
		AppMode:        TestMode,
		JWTSecret:      testJWTSecret,
		SimpleUploadMB: 5,
		QueueWorkers:   1,
		QueueSize:      8,
	}

	masterKey := bytes.Repeat([]byte{0x07}, filecrypt.KeySize)
	encryptor, err := filecrypt.NewEncryptor(masterKey)
	require.NoError(t, err)

	ts := &testServer{
		store:  storage.NewMemoryBackend(),
		broker: events.NewMemoryBroker(),
	}
	l := &logger.Logger{Logger: zap.NewNop()}

	svc := services.NewAttachmentService(
		cfg,
		repository.NewMemoryAttachmentRepository(),
		ts.store,
		encryptor,
		validation.NewValidator(validation.DefaultLimits()),
		ts.broker,
		l,
	)
	svc.Start()
	t.Cleanup(svc.Stop)

	ts.srv = New(cfg, l)
	ts.srv.SetupRoutes(&Handlers{
		Attachment: handler.NewAttachmentHandler(svc, cfg.SimpleUploadMB),
	}, services.NewTokenVerifier(cfg), nil)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.srv.engine.ServeHTTP(w, req)
	return w
}

func bearerFor(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, services.AccessClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var res apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), "body: %s", w.Body.String())
	return res
}

func decodeAttachment(t *testing.T, w *httptest.ResponseRecorder) httpdto.AttachmentDTO {
	t.Helper()
	res := decodeResponse(t, w)
	var dto httpdto.AttachmentDTO
	require.NoError(t, json.Unmarshal(res.Data, &dto))
	return dto
}

func jpegBody(n int) []byte {
	data := make([]byte, n)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	for i := 4; i < n; i++ {
		data[i] = byte(i * 17)
	}
	return data
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestPingAndHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutesRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/v1/attachments", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/attachments", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeResponse(t, w).Code)
}

func TestSimpleUploadAndDownload(t *testing.T) {
	ts := newTestServer(t)
	uploader := uuid.New()
	token := bearerFor(t, uploader)
	data := jpegBody(4096)

	body, contentType := multipartUpload(t, "rear view.jpg", "image/jpeg", data)
	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/upload", body)
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", contentType)
	w := ts.do(req)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	dto := decodeAttachment(t, w)
	assert.Equal(t, "ready", dto.Status)
	assert.Equal(t, "rear_view.jpg", dto.FileName)
	assert.Equal(t, uploader.String(), dto.UploaderID)
	assert.Equal(t, int64(len(data)), dto.FileSize)

	req = httptest.NewRequest(http.MethodGet, "/v1/attachments/"+dto.ID, nil)
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/attachments/"+dto.ID+"/download", nil)
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "rear_view.jpg")
}

func TestSimpleUploadRejectsUndeclaredContent(t *testing.T) {
	ts := newTestServer(t)
	token := bearerFor(t, uuid.New())
	png := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 32)...)

	body, contentType := multipartUpload(t, "fake.jpg", "image/jpeg", png)
	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/upload", body)
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", contentType)
	w := ts.do(req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeResponse(t, w).Code)
}

func TestSimpleUploadRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t)
	token := bearerFor(t, uuid.New())

	body, contentType := multipartUpload(t, "big.jpg", "image/jpeg", jpegBody(6*1024*1024))
	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/upload", body)
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", contentType)
	w := ts.do(req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "TOO_LARGE", decodeResponse(t, w).Code)
}

func TestChunkedUploadOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	uploader := uuid.New()
	token := bearerFor(t, uploader)

	const chunkSize = 1500
	full := jpegBody(2 * chunkSize)

	initPayload, err := json.Marshal(httpdto.InitUploadRequest{
		FileName:    "walkaround clip.jpg",
		FileSize:    int64(len(full)),
		ContentType: "image/jpeg",
		TotalChunks: 2,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/upload/init", bytes.NewReader(initPayload))
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	dto := decodeAttachment(t, w)
	assert.Equal(t, "uploading", dto.Status)
	assert.Equal(t, "walkaround_clip.jpg", dto.FileName)
	assert.Equal(t, 2, dto.TotalChunks)

	for i := 0; i < 2; i++ {
		chunk := full[i*chunkSize : (i+1)*chunkSize]
		url := fmt.Sprintf("/v1/attachments/upload/%s/chunk/%d", dto.ID, i)
		req := httptest.NewRequest(http.MethodPatch, url, bytes.NewReader(chunk))
		req.Header.Set("Authorization", token)
		req.Header.Set("Content-Type", "application/octet-stream")
		w := ts.do(req)
		require.Equal(t, http.StatusOK, w.Code, "chunk %d body: %s", i, w.Body.String())

		var progress httpdto.ChunkProgressResponse
		require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &progress))
		assert.Equal(t, i+1, progress.ReceivedChunks)
		assert.Equal(t, 2, progress.TotalChunks)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/attachments/upload/"+dto.ID+"/complete", nil)
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, "processing", decodeAttachment(t, w).Status)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/v1/attachments/"+dto.ID, nil)
		req.Header.Set("Authorization", token)
		w := ts.do(req)
		if w.Code != http.StatusOK {
			return false
		}
		return decodeAttachment(t, w).Status == "ready"
	}, 2*time.Second, 20*time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/v1/attachments/"+dto.ID+"/download", nil)
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, full, w.Body.Bytes())

	req = httptest.NewRequest(http.MethodDelete, "/v1/attachments/"+dto.ID, nil)
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	require.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/attachments/"+dto.ID, nil)
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompleteBeforeAllChunksIs422(t *testing.T) {
	ts := newTestServer(t)
	token := bearerFor(t, uuid.New())

	initPayload, err := json.Marshal(httpdto.InitUploadRequest{
		FileName:    "partial.jpg",
		FileSize:    3000,
		ContentType: "image/jpeg",
		TotalChunks: 2,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/upload/init", bytes.NewReader(initPayload))
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)
	require.Equal(t, http.StatusCreated, w.Code)
	dto := decodeAttachment(t, w)

	req = httptest.NewRequest(http.MethodPost, "/v1/attachments/upload/"+dto.ID+"/complete", nil)
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeResponse(t, w).Code)
}

func TestChunkUploadByStrangerIs404(t *testing.T) {
	ts := newTestServer(t)
	owner := bearerFor(t, uuid.New())
	stranger := bearerFor(t, uuid.New())

	initPayload, err := json.Marshal(httpdto.InitUploadRequest{
		FileName:    "mine.jpg",
		FileSize:    1000,
		ContentType: "image/jpeg",
		TotalChunks: 1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/upload/init", bytes.NewReader(initPayload))
	req.Header.Set("Authorization", owner)
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)
	require.Equal(t, http.StatusCreated, w.Code)
	dto := decodeAttachment(t, w)

	req = httptest.NewRequest(http.MethodPatch, "/v1/attachments/upload/"+dto.ID+"/chunk/0", bytes.NewReader(jpegBody(100)))
	req.Header.Set("Authorization", stranger)
	w = ts.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/attachments/"+dto.ID, nil)
	req.Header.Set("Authorization", stranger)
	w = ts.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMalformedIdentifiersAre400(t *testing.T) {
	ts := newTestServer(t)
	token := bearerFor(t, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/v1/attachments/not-a-uuid", nil)
	req.Header.Set("Authorization", token)
	w := ts.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPatch, "/v1/attachments/upload/"+uuid.NewString()+"/chunk/zero", bytes.NewReader([]byte("x")))
	req.Header.Set("Authorization", token)
	w = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/attachments/upload/init", bytes.NewReader([]byte("{")))
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	w = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListReturnsOnlyCallerUploads(t *testing.T) {
	ts := newTestServer(t)
	alice := uuid.New()
	aliceToken := bearerFor(t, alice)
	bobToken := bearerFor(t, uuid.New())

	body, contentType := multipartUpload(t, "mine.jpg", "image/jpeg", jpegBody(256))
	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/upload", body)
	req.Header.Set("Authorization", aliceToken)
	req.Header.Set("Content-Type", contentType)
	w := ts.do(req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/attachments", nil)
	req.Header.Set("Authorization", aliceToken)
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	var mine httpdto.ListAttachmentsResponse
	require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &mine))
	assert.Len(t, mine.Attachments, 1)

	req = httptest.NewRequest(http.MethodGet, "/v1/attachments", nil)
	req.Header.Set("Authorization", bobToken)
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	var theirs httpdto.ListAttachmentsResponse
	require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &theirs))
	assert.Empty(t, theirs.Attachments)
}
