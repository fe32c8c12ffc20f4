package controllers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/api/responses"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

// ListNotifications returns a user's unread notifications.
func ListNotifications(svc *notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a valid uuid"))
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := svc.ListUnread(ctx, userID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications"))
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// MarkNotificationRead stamps one notification read.
func MarkNotificationRead(svc *notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		notificationID, err := pathUUID(r, "notificationID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a valid uuid"))
			return
		}
		if err := svc.MarkRead(ctx, userID, notificationID); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "read"})
	}
}
