package adminapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
	"github.com/talkincode/wagate/pkg/phone"
	"go.uber.org/zap"
)

func registerCustomerRoutes() {
	webserver.ApiGET("/customers", listCustomers)
	webserver.ApiGET("/customers/:id", getCustomer)
	webserver.ApiPOST("/customers", postCreateCustomer)
	webserver.ApiPOST("/customers/:id", postUpdateCustomer)
	webserver.ApiDELETE("/customers/:id", deleteCustomer)
}

// listCustomers returns a paginated customer list, filtered by tenant
// and free-text query.
func listCustomers(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.SysCustomer{})

	if tenant := strings.TrimSpace(c.QueryParam("tenant")); tenant != "" {
		db = db.Where("tenant_id = ?", tenant)
	}
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(name) LIKE ? OR phone LIKE ? OR LOWER(tags) LIKE ?", like, "%"+q+"%", like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query customers", err.Error())
	}

	var customers []domain.SysCustomer
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&customers).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query customers", err.Error())
	}
	return paged(c, customers, total, page, pageSize)
}

func getCustomer(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid customer ID", nil)
	}
	var cust domain.SysCustomer
	if err := GetDB(c).Where("id = ?", id).First(&cust).Error; err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Customer not found", nil)
	}
	return ok(c, cust)
}

func postCreateCustomer(c echo.Context) error {
	var payload struct {
		Tenant   string `json:"tenant"`
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		AltPhone string `json:"alt_phone"`
		Tags     string `json:"tags"`
		Remark   string `json:"remark"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Tenant == "" || payload.Name == "" || payload.Phone == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant, name and phone are required", nil)
	}
	if !phone.IsValid(payload.Phone) {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Phone number is not valid", nil)
	}
	if payload.AltPhone != "" && !phone.IsValid(payload.AltPhone) {
		return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Alternate phone number is not valid", nil)
	}

	cust := domain.SysCustomer{
		ID:       common.UUIDint64(),
		TenantID: payload.Tenant,
		Name:     payload.Name,
		Phone:    phone.ToInternational(payload.Phone),
		AltPhone: payload.AltPhone,
		Tags:     payload.Tags,
		Remark:   payload.Remark,
	}
	if cust.AltPhone != "" {
		cust.AltPhone = phone.ToInternational(cust.AltPhone)
	}
	if err := GetDB(c).Create(&cust).Error; err != nil {
		zap.L().Warn("adminapi: create customer failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create customer", err.Error())
	}
	return ok(c, cust)
}

func postUpdateCustomer(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid customer ID", nil)
	}

	var payload struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		AltPhone string `json:"alt_phone"`
		Tags     string `json:"tags"`
		Remark   string `json:"remark"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if payload.Name != "" {
		updates["name"] = payload.Name
	}
	if payload.Phone != "" {
		if !phone.IsValid(payload.Phone) {
			return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Phone number is not valid", nil)
		}
		updates["phone"] = phone.ToInternational(payload.Phone)
	}
	if payload.AltPhone != "" {
		if !phone.IsValid(payload.AltPhone) {
			return fail(c, http.StatusBadRequest, "INVALID_PHONE", "Alternate phone number is not valid", nil)
		}
		updates["alt_phone"] = phone.ToInternational(payload.AltPhone)
	}
	if payload.Tags != "" {
		updates["tags"] = payload.Tags
	}
	if payload.Remark != "" {
		updates["remark"] = payload.Remark
	}

	if err := GetDB(c).Model(&domain.SysCustomer{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update customer", err.Error())
	}
	return ok(c, map[string]interface{}{"id": id})
}

func deleteCustomer(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid customer ID", nil)
	}
	if err := GetDB(c).Where("id = ?", id).Delete(&domain.SysCustomer{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete customer", err.Error())
	}
	zap.L().Info("customer deleted", zap.Int64("id", id))
	return ok(c, map[string]interface{}{"id": id})
}
