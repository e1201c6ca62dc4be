package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"skillswap/internal/auth"
	"skillswap/internal/bootstrap"
	"skillswap/internal/config"
	"skillswap/internal/models"
	"skillswap/internal/services"
	"skillswap/internal/storage"
)

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  ./admin token <userID> [role]                          - 签发本地测试用的 JWT")
	fmt.Println("  ./admin show-user <userID>                             - 显示用户记录")
	fmt.Println("  ./admin show-channel <userA> <userB>                   - 显示两个用户之间的频道")
	fmt.Println("  ./admin seed-user <userID> <displayName> [offered] [wanted] - 写入用户资料，技能以逗号分隔")
}

func main() {
	// 简单命令行参数解析
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	// token 不需要连接存储
	if os.Args[1] == "token" {
		if len(os.Args) < 3 {
			log.Fatalf("需要指定用户ID")
		}
		role := ""
		if len(os.Args) > 3 {
			role = os.Args[3]
		}
		token, err := auth.GenerateToken(os.Args[2], role, cfg.Auth)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, storage.NewChannelFeed(nil), zap.NewNop())
	if err != nil {
		log.Fatalf("无法初始化存储: %v", err)
	}
	defer closeStore()

	switch os.Args[1] {
	case "show-user":
		if len(os.Args) < 3 {
			log.Fatalf("需要指定用户ID")
		}
		showUser(ctx, store, os.Args[2])

	case "show-channel":
		if len(os.Args) < 4 {
			log.Fatalf("需要指定两个用户ID")
		}
		showChannel(ctx, store, services.ResolveChannelID(os.Args[2], os.Args[3]))

	case "seed-user":
		if len(os.Args) < 4 {
			log.Fatalf("需要指定用户ID和显示名称")
		}
		update := services.ProfileUpdate{DisplayName: &os.Args[3]}
		if len(os.Args) > 4 {
			offered := splitSkills(os.Args[4])
			update.OfferedSkills = &offered
		}
		if len(os.Args) > 5 {
			wanted := splitSkills(os.Args[5])
			update.WantedSkills = &wanted
		}
		requestService := services.NewRequestService(store, nil, zap.NewNop(), cfg.Store.MaxWriteRetries)
		rec, err := requestService.UpdateProfile(ctx, os.Args[2], update)
		if err != nil {
			log.Fatalf("写入用户资料失败: %v", err)
		}
		fmt.Printf("用户 %s 已更新 (version %d)\n", rec.ID, rec.Version)

	default:
		usage()
		log.Fatalf("未知命令: %s", os.Args[1])
	}
}

func splitSkills(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func showUser(ctx context.Context, store storage.ConnectionStore, userID string) {
	rec, err := store.ReadUser(ctx, userID)
	if err != nil {
		log.Fatalf("读取用户失败: %v", err)
	}
	if !rec.Exists() {
		fmt.Printf("用户 %s 不存在\n", userID)
		return
	}

	fmt.Printf("用户 %s 信息 (version %d):\n", rec.ID, rec.Version)
	fmt.Println("--------------------------------------")
	fmt.Printf("名称: %s\n", rec.DisplayName)
	fmt.Printf("提供技能: %s\n", strings.Join(rec.OfferedSkills, ", "))
	fmt.Printf("想学技能: %s\n", strings.Join(rec.WantedSkills, ", "))
	fmt.Printf("可用时间: %s\n", rec.Availability)
	fmt.Printf("好友: %s\n", strings.Join(rec.Friends, ", "))
	fmt.Printf("完成交换: %d\n", rec.CountSwaps())

	fmt.Printf("待处理请求 (%d):\n", len(rec.Requests))
	for i, r := range rec.Requests {
		printRequest(i, r)
	}
	fmt.Printf("历史请求 (%d):\n", len(rec.History))
	for i, r := range rec.History {
		printRequest(i, r)
	}
}

func printRequest(i int, r models.SwapRequest) {
	fmt.Printf("#%d %s 来自 %s (%s): %s -> %s, 状态 %s, 创建于 %s\n",
		i, r.ID, r.FromUserID, r.FromUserName, r.OfferedSkill, r.WantedSkill, r.Status,
		r.CreatedAt.Format("2006-01-02 15:04:05"))
}

func showChannel(ctx context.Context, store storage.ConnectionStore, channelID string) {
	ch, err := store.ReadChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Printf("频道 %s 尚未创建\n", channelID)
		return
	}
	if err != nil {
		log.Fatalf("读取频道失败: %v", err)
	}

	fmt.Printf("频道 %s 信息 (version %d):\n", ch.ID, ch.Version)
	fmt.Println("--------------------------------------")
	fmt.Printf("参与者: %s\n", strings.Join(ch.Participants, ", "))
	fmt.Printf("创建时间: %s\n", ch.CreatedAt.Format("2006-01-02 15:04:05"))
	for i, m := range ch.Messages {
		fmt.Printf("#%d [%s] %s: %s\n", i, time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05"), m.Sender, m.Text)
	}
}
