package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/bidbox/internal/registry"
)

func setupHandlerTest(t *testing.T, bids *fakeBids, reg *registry.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if reg == nil {
		reg = registry.NewService(registry.NewMemoryStore())
	}
	router := gin.New()
	NewHandler(NewService(bids, reg)).RegisterRoutes(router.Group("/v1"))
	return router
}

func TestGetPriceGuide(t *testing.T) {
	router := setupHandlerTest(t, &fakeBids{
		pending: []string{"1.00", "2.00", "3.00", "4.00", "5.00"},
	}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/recipients/"+guideWallet+"/price-guide", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "3.00", resp["median"])
	assert.Equal(t, float64(5), resp["sampleSize"])
	assert.Equal(t, false, resp["isRegistered"])
	assert.Nil(t, resp["username"])
}

func TestGetPriceGuide_RegisteredUsername(t *testing.T) {
	reg := registry.NewService(registry.NewMemoryStore())
	_, err := reg.Register(context.Background(), registry.RegisterRequest{
		Wallet:   guideWallet,
		Username: "guided",
	})
	require.NoError(t, err)

	router := setupHandlerTest(t, &fakeBids{}, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/recipients/guided/price-guide", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["isRegistered"])
	assert.Equal(t, "guided", resp["username"])
}

func TestGetPriceGuide_UnknownUsername(t *testing.T) {
	router := setupHandlerTest(t, &fakeBids{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/recipients/nobody/price-guide", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "recipient_not_found")
}
