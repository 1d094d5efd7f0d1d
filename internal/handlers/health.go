package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/response"
)

// Health returns a status payload useful for readiness checks. The database
// is pinged when one is supplied.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(requestContext(c))
			}
			if err != nil {
				response.Error(c, errors.New("UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
