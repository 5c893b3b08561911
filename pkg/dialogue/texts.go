package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/deploybot/pkg/jobstore"
)

const (
	msgHelp = "🤖 Bot deploy Jenkins\n\n" +
		"/deploy - Chọn thư mục và job để deploy\n" +
		"/projects [từ khóa] - Tìm job hoặc thư mục\n" +
		"/status - Xem và quản lý lịch deploy của bạn\n" +
		"/feedback - Gửi góp ý\n" +
		"/clear - Xóa trạng thái hội thoại\n" +
		"/help - Hiển thị hướng dẫn này\n\n" +
		"Thời gian lên lịch: DD/MM/YYYY HH:mm, hoặc 'df' cho 30 phút nữa. Gõ 'hủy' để hủy."

	msgUnknownCommand = "❓ Lệnh không hợp lệ. Gõ /help để xem danh sách lệnh."
	msgCleared        = "🧹 Đã xóa trạng thái hội thoại."
	msgCancelled      = "🚫 Đã hủy."

	msgRootTitle   = "📂 Chọn thư mục"
	msgEmptyFolder = "(không có job nào)"
	msgNoResults   = "🤷 Không tìm thấy kết quả."

	msgConfirmDeploy = "Bạn có muốn deploy %s?"
	msgDeployAborted = "🚫 Đã hủy deploy %s."

	msgAskSearchQuery = "🔍 Nhập từ khóa tìm kiếm (hỗ trợ *, ?). Gõ 'hủy' để hủy."
	msgSearching      = "🔍 Đang tìm '%s'..."
	msgSearchProgress = "🔍 Đang tìm '%s'... %s"
	msgSearchTitle    = "🔍 Kết quả cho '%s'"
	msgSearchPartial  = "\n⚠️ Kết quả chưa đầy đủ (hết thời gian tìm kiếm)."

	msgAskFeedback  = "📝 Nhập góp ý của bạn. Gõ 'hủy' để hủy."
	msgFeedbackSent = "🙏 Cảm ơn bạn đã góp ý!"
	msgFeedbackFwd  = "📝 Góp ý từ %s (id %d):\n%s"

	msgAskScheduleTime = "⏰ Nhập thời gian deploy %s theo định dạng DD/MM/YYYY HH:mm, hoặc 'df' cho %s nữa. Gõ 'hủy' để hủy."
	msgAskEditTime     = "✏️ Nhập thời gian mới cho lịch #%d (%s) theo định dạng DD/MM/YYYY HH:mm. Gõ 'hủy' để hủy."
	msgAskParameter    = "🏷 Nhập %s cho %s. Gõ 'hủy' để hủy."
	msgScheduled       = "✅ Đã lên lịch deploy %s lúc %s"
	msgRescheduled     = "✅ Đã đổi lịch #%d (%s) sang %s"
	msgScheduleDeleted = "🗑 Đã xóa lịch #%d (%s)."
	msgNoSchedules     = "📭 Bạn không có lịch deploy nào."
	msgSchedulesTitle  = "📅 Lịch deploy của bạn:"

	msgScheduleReplaced  = "⚠️ Lịch trước đó của người dùng %d lúc %s đã được thay thế."
	msgScheduleTakenOver = "⚠️ Lịch deploy %s lúc %s của bạn đã được người dùng %d thay thế."

	msgDeploying = "🚀 Đang deploy %s..."

	msgBadTime       = "⚠️ Sai định dạng thời gian. Dùng DD/MM/YYYY HH:mm, ví dụ 09/08/2099 11:11, hoặc 'df'."
	msgPastTime      = "⚠️ Thời gian phải ở tương lai."
	msgEmptyParam    = "⚠️ Giá trị không được để trống."
	msgStaleButton   = "⚠️ Nút này đã hết hạn, vui lòng mở lại danh sách."
	msgJobGone       = "⚠️ Không tìm thấy job hoặc lịch này nữa."
	msgNotOwner      = "⛔ Lịch này không thuộc về bạn."
	msgNotAuthorized = "⛔ Bạn không có quyền deploy."
	msgCatalogFailed = "❌ Không lấy được danh sách job từ Jenkins, vui lòng thử lại sau."
	msgSearchFailed  = "❌ Tìm kiếm thất bại, vui lòng thử lại sau."
	msgGenericStore  = "❌ Lỗi lưu trữ, vui lòng thử lại sau."
)

func deployedText(path, paramName, parameter string) string {
	text := "✅ Đã gửi yêu cầu deploy: " + path
	if parameter != "" {
		text += fmt.Sprintf("\n%s: %s", paramName, parameter)
	}
	return text
}

func deployFailedText(path string) string {
	return "❌ Deploy thất bại: " + path
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimeLayout)
}

func schedulesText(jobs []jobstore.Job, loc *time.Location, paramName string) string {
	var b strings.Builder
	b.WriteString(msgSchedulesTitle)
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n#%d %s lúc %s", j.ID, j.URL, formatTime(*j.ScheduledTime, loc))
		if j.Parameter != "" {
			fmt.Fprintf(&b, " (%s: %s)", paramName, j.Parameter)
		}
	}
	return b.String()
}
