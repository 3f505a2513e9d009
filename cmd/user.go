package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/logger"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/pkg/auth"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	tokenUserID uint
	tokenRole   string

	donorUsername   string
	donorBloodGroup string
	donorLocality   string
	donorDistrict   string
	donorRegion     string
	donorPhone      string
)

// tokenCmd 为已有用户签发访问令牌，供联调与 listen 命令使用
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "为用户签发访问令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initConfigAndLogger()
		if err != nil {
			return err
		}
		if tokenUserID == 0 {
			return errors.New("--user-id 不能为空")
		}
		m := auth.NewManager(cfg.JWT.SecretKey, cfg.JWT.Issuer, time.Duration(cfg.JWT.AccessExpireSeconds)*time.Second)
		tok, err := m.Generate(tokenUserID, tokenRole)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

// donorCmd 创建或更新献血者资料
// 示例：./bloodlink-api donor --username alice --blood-group O+ --locality Pune --district "Pune District" --region Maharashtra
var donorCmd = &cobra.Command{
	Use:   "donor",
	Short: "创建或更新献血者资料",
	RunE: func(cmd *cobra.Command, args []string) error {
		if donorUsername == "" {
			return errors.New("--username 不能为空")
		}
		if !validBloodGroup(donorBloodGroup) {
			return fmt.Errorf("无效的血型: %q", donorBloodGroup)
		}

		cfg, err := initConfigAndLogger()
		if err != nil {
			return err
		}
		st, err := openStores(cfg, false)
		if err != nil {
			return err
		}
		defer st.close()

		var user model.User
		err = st.db.Where("username = ?", donorUsername).First(&user).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		user.Username = donorUsername
		user.IsDonor = true
		user.BloodGroup = donorBloodGroup
		user.Locality = donorLocality
		user.District = donorDistrict
		user.Region = donorRegion
		if donorPhone != "" {
			user.Phone = donorPhone
		}
		if err := st.db.Save(&user).Error; err != nil {
			return fmt.Errorf("保存献血者失败: %w", err)
		}
		fmt.Printf("献血者已保存: id=%d %s %s/%s/%s\n", user.ID, user.BloodGroup, user.Locality, user.District, user.Region)

		if st.es != nil {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			idx := service.NewDonorIndexService(st.db, st.es, cfg.Elasticsearch.DonorIndex, logger.Named("donor_index"))
			if err := idx.IndexDonor(ctx, &user); err != nil {
				return err
			}
		}
		return nil
	},
}

func validBloodGroup(g string) bool {
	for _, v := range model.BloodGroups {
		if v == g {
			return true
		}
	}
	return false
}

func init() {
	tokenCmd.Flags().UintVar(&tokenUserID, "user-id", 0, "用户ID")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "user", "角色")

	donorCmd.Flags().StringVar(&donorUsername, "username", "", "用户名，不存在时创建")
	donorCmd.Flags().StringVar(&donorBloodGroup, "blood-group", "", "血型，例如 O+")
	donorCmd.Flags().StringVar(&donorLocality, "locality", "", "所在地")
	donorCmd.Flags().StringVar(&donorDistrict, "district", "", "所在区县")
	donorCmd.Flags().StringVar(&donorRegion, "region", "", "所在省/州")
	donorCmd.Flags().StringVar(&donorPhone, "phone", "", "联系电话")

	rootCmd.AddCommand(tokenCmd, donorCmd)
}
